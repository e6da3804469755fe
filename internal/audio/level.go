package audio

import (
	"encoding/binary"
	"math"
)

// Level computes the normalized RMS amplitude of a 16-bit little-endian
// mono PCM buffer. The result is in [0,1]; a trailing odd byte is ignored.
func Level(pcm []byte) float64 {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(sampleCount))
}
