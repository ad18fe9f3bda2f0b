package recorder

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"scribe/audio"
	"scribe/encoder"
)

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidDuration = errors.New("invalid duration")
)

const (
	MinDuration = 1
	MaxDuration = 300
)

type State int

const (
	Idle State = iota
	Recording
	Stopping
	Saved
	Transcribing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Saved:
		return "saved"
	case Transcribing:
		return "transcribing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StopReason records which trigger ended the capture loop.
type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopTimer
	StopFullDuration
	StopReadError
)

func (r StopReason) String() string {
	switch r {
	case StopRequested:
		return "requested"
	case StopTimer:
		return "timer"
	case StopFullDuration:
		return "full_duration"
	case StopReadError:
		return "read_error"
	}
	return "none"
}

// Session is one start-to-save recording attempt. The capture loop is the
// only writer of chunks and progress.
type Session struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	expected float64 // chunks covering Duration

	mu       sync.Mutex
	chunks   []audio.Chunk
	bytes    int
	progress float64
	reason   StopReason
	readErr  error
	err      error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(id string, startedAt time.Time, seconds, chunkFrames int) *Session {
	return &Session{
		ID:        id,
		StartedAt: startedAt,
		Duration:  time.Duration(seconds) * time.Second,
		expected:  float64(seconds*encoder.SampleRate) / float64(chunkFrames),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Done is closed once the recording has been saved or has failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// append stores a chunk and returns the updated chunk count and progress.
func (s *Session) append(c audio.Chunk) (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	s.bytes += len(c)
	s.progress = math.Min(100, float64(len(s.chunks))/s.expected*100)
	return len(s.chunks), s.progress
}

func (s *Session) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// pcm concatenates the buffered chunks in arrival order.
func (s *Session) pcm() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.bytes)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func (s *Session) signalStop(reason StopReason) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.stop)
	})
}

func (s *Session) stopRequested() (StopReason, bool) {
	select {
	case <-s.stop:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reason, true
	default:
		return StopNone, false
	}
}

func (s *Session) setResult(reason StopReason, readErr, err error) {
	s.mu.Lock()
	s.reason = reason
	s.readErr = readErr
	s.err = err
	s.mu.Unlock()
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID         string
	State      State
	StartedAt  time.Time
	Duration   time.Duration
	Chunks     int
	Bytes      int
	Progress   float64
	StopReason StopReason
	ReadErr    error
	Err        error
	AudioPath  string
}

// Recorded is the playable length of the captured audio.
func (s Snapshot) Recorded() time.Duration { return encoder.Duration(s.Bytes) }

func (s *Session) snapshot(state State, audioPath string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.ID,
		State:      state,
		StartedAt:  s.StartedAt,
		Duration:   s.Duration,
		Chunks:     len(s.chunks),
		Bytes:      s.bytes,
		Progress:   s.progress,
		StopReason: s.reason,
		ReadErr:    s.readErr,
		Err:        s.err,
		AudioPath:  audioPath,
	}
}
