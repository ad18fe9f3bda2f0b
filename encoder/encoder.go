package encoder

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BytesPerFrame = Channels * BitsPerSample / 8
	BlockSize     = 4096
)

// Duration returns the playback length of pcmBytes bytes of PCM16 mono audio.
func Duration(pcmBytes int) time.Duration {
	frames := pcmBytes / BytesPerFrame
	return time.Duration(frames) * time.Second / SampleRate
}

// Samples decodes little-endian PCM16 bytes. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// RMS returns the normalized root-mean-square level (0..1) of a PCM16 buffer.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(len(pcm)/2))
}
