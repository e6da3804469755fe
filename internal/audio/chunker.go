package audio

// Chunker re-slices an arbitrary PCM byte stream into fixed-duration
// frames. Input boundaries are not preserved: partial data is held until
// enough bytes arrive to fill a frame.
type Chunker struct {
	frameBytes int
	pending    []byte
}

// NewChunker creates a chunker for the given format. frameMs is the
// duration of one output frame in milliseconds.
func NewChunker(sampleRate, channels, frameMs int) *Chunker {
	bytesPerSecond := sampleRate * channels * 2 // 16-bit samples
	frameBytes := bytesPerSecond * frameMs / 1000
	if frameBytes < 2 {
		frameBytes = 2
	}
	// Keep frames sample-aligned
	if frameBytes%2 != 0 {
		frameBytes++
	}

	return &Chunker{
		frameBytes: frameBytes,
		pending:    make([]byte, 0, frameBytes),
	}
}

// FrameBytes returns the size in bytes of one output frame.
func (c *Chunker) FrameBytes() int {
	return c.frameBytes
}

// Push appends data to the chunker and returns all complete frames now
// available. Returned slices are copies and safe to retain.
func (c *Chunker) Push(data []byte) [][]byte {
	c.pending = append(c.pending, data...)

	var frames [][]byte
	for len(c.pending) >= c.frameBytes {
		frame := make([]byte, c.frameBytes)
		copy(frame, c.pending[:c.frameBytes])
		frames = append(frames, frame)
		c.pending = c.pending[c.frameBytes:]
	}

	return frames
}

// Reset discards any partial frame.
func (c *Chunker) Reset() {
	c.pending = c.pending[:0]
}
