//go:build !linux || !cgo

package call

import (
	"log"

	"github.com/teamgrid/collabcore/internal/model"
)

// captureLocal has no native backend off Linux — capture via
// pion/mediadevices needs platform drivers (V4L2/malgo/X11). Calls proceed
// receive-only: the peer connections get recvonly transceivers and no local
// tracks, so remote media still flows in.
func captureLocal(kind model.CallKind) (LocalMedia, error) {
	log.Printf("CALL: no native capture on this platform, %s call is receive-only", kind)
	return recvOnlyMedia{}, nil
}

// recvOnlyMedia is a LocalMedia with no tracks.
type recvOnlyMedia struct{}

func (recvOnlyMedia) SetAudioEnabled(bool) {}
func (recvOnlyMedia) Stop()                {}
func (recvOnlyMedia) Stopped() bool        { return true }
