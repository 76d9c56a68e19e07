//go:build linux && cgo

package call

import (
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/teamgrid/collabcore/internal/model"
)

// captureLocal acquires local media for the call kind via V4L2/malgo/X11:
// microphone only for VOICE, microphone+camera for VIDEO, display capture
// for SCREEN. Failure here is call-fatal for the current attempt.
func captureLocal(kind model.CallKind) (LocalMedia, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	switch kind {
	case model.CallVoice:
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	case model.CallVideo:
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		constraints.Video = videoConstraints
	case model.CallScreen:
		constraints.Video = func(_ *mediadevices.MediaTrackConstraints) {}
	default:
		return nil, fmt.Errorf("unknown call kind %q", kind)
	}

	var ms mediadevices.MediaStream
	if kind == model.CallScreen {
		ms, err = mediadevices.GetDisplayMedia(constraints)
	} else {
		ms, err = mediadevices.GetUserMedia(constraints)
	}
	if err != nil {
		return nil, fmt.Errorf("capture (%s): %w", kind, err)
	}

	tracks := ms.GetTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("capture (%s): no tracks", kind)
	}
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Printf("CALL: local track ended: %v", err)
			}
		})
	}
	log.Printf("CALL: local media captured (%s) — %d tracks", kind, len(tracks))
	return newPionMedia(selector, tracks), nil
}

// videoConstraints excludes MJPEG — some cameras expose an MJPEG V4L2 node
// that produces malformed JPEG frames, which poisons the VP8 encoder and
// causes SetRemoteDescription to fail. Raw formats only, capped at 640×480
// to keep VP8 encoding latency down.
func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}
