// Package beep plays short cues when a recording starts, is saved, or
// fails.
package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Kind selects one of the cues.
type Kind int

const (
	Start Kind = iota
	End
	Error
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	case Error:
		return "error"
	}
	return "unknown"
}

// Samples renders the cue as interleaved int16 samples at 44.1kHz.
// tail pads the single ticks so buffered backends play them in full.
func Samples(k Kind, channels int, tail float64) []int16 {
	switch k {
	case Start:
		return tick(startFreq, 0.03+tail, startVolume, startDecay, channels)
	case End:
		return tick(endFreq, 0.05+tail, endVolume, endDecay, channels)
	case Error:
		return doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay, channels)
	}
	return nil
}

func tick(freq, duration, volume, decay float64, channels int) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n*channels)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = s
		}
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64, channels int) []int16 {
	b := tick(freq, beepDur, volume, decay, channels)
	gap := make([]int16, int(sampleRate*gapDur)*channels)
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

func toBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// Play starts the cue in the background and returns immediately.
func Play(k Kind) {
	if disabled.Load() {
		return
	}
	play(k)
}

func PlayStart() { Play(Start) }
func PlayEnd()   { Play(End) }
func PlayError() { Play(Error) }
