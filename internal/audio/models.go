package audio

import "time"

// Frame is one fixed-duration unit of captured audio: mono, 16-bit
// little-endian linear PCM at the configured sample rate, plus the
// normalized amplitude metric computed for it.
type Frame struct {
	PCM   []byte
	Level float64
	Time  time.Time
}

// Source produces a continuous sequence of frames. Implementations push
// frames from their own execution context; consumers must hand off into
// their serialized control context before touching shared state.
type Source interface {
	Start() error
	Stop()
}

// FrameFunc receives each captured frame.
type FrameFunc func(Frame)

// ErrorFunc receives capture errors that occur after a successful Start.
type ErrorFunc func(error)
