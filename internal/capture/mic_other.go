//go:build !linux || !cgo

package capture

import "errors"

// NewNativeMic returns the platform microphone device. Native capture via
// pion/mediadevices needs platform drivers (malgo on Linux); on other
// platforms acquisition always fails and the recorder stays Idle.
func NewNativeMic() Device { return unsupportedMic{} }

type unsupportedMic struct{}

func (unsupportedMic) Open() (Stream, error) {
	return nil, errors.New("native microphone capture not supported on this platform")
}
