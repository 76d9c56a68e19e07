package capture

// Device acquires the microphone. The native implementation lives behind a
// platform build tag (pion/mediadevices); tests substitute a fake.
type Device interface {
	// Open starts capture and returns a live stream, or an error when the
	// device is denied, busy, or missing.
	Open() (Stream, error)
}

// Stream is one live capture. Chunks delivers encoded audio in capture
// order and is closed when the stream closes. Pause suspends delivery
// without releasing the hardware.
type Stream interface {
	Chunks() <-chan []byte
	Pause()
	Resume()
	MimeType() string
	// Close stops the hardware and releases the device. Idempotent.
	Close() error
}
