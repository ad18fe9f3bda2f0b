// Package recorder runs one microphone recording at a time: it buffers
// fixed-size chunks from a Source, stops on request, on timer expiry or once
// the requested duration is captured, and saves the result as a WAV file.
package recorder

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/atomicfile"
	"scribe/audio"
	"scribe/encoder"
	"scribe/log"
)

const updateBuffer = 256

// Source opens a fresh chunk stream for every recording.
type Source interface {
	Open() (audio.ChunkReader, error)
}

type Config struct {
	AudioPath   string
	ArchivePath string // optional FLAC copy of each recording
	ChunkFrames int
}

// Update is posted to Updates on every chunk and state change. Per-chunk
// updates are dropped when the consumer falls behind; a state change always
// reaches the channel, evicting the oldest queued update if it is full.
type Update struct {
	SessionID string
	State     State
	Progress  float64
	Chunks    int
	Level     float64
	Elapsed   time.Duration
	ReadErr   error
	Err       error
}

type Recorder struct {
	src Source
	cfg Config

	mu      sync.Mutex
	cur     *Session
	state   State
	opening bool // a Start is waiting on Source.Open

	updates chan Update
}

func New(src Source, cfg Config) *Recorder {
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = audio.DefaultChunkFrames
	}
	return &Recorder{
		src:     src,
		cfg:     cfg,
		updates: make(chan Update, updateBuffer),
	}
}

func (r *Recorder) Updates() <-chan Update { return r.updates }

// SetSource switches the input used by the next recording.
func (r *Recorder) SetSource(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.opening, r.state == Recording, r.state == Stopping:
		return fmt.Errorf("%w: cannot switch input while recording", ErrInvalidState)
	}
	r.src = src
	return nil
}

func (r *Recorder) AudioPath() string { return r.cfg.AudioPath }

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns a snapshot of the latest session; ok is false before the
// first Start.
func (r *Recorder) Current() (snap Snapshot, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return Snapshot{State: r.state}, false
	}
	return r.cur.snapshot(r.state, r.cfg.AudioPath), true
}

// Start begins a recording of the given length. It fails with
// ErrInvalidState while another recording or a transcription is running,
// leaving that work untouched.
func (r *Recorder) Start(seconds int) (*Session, error) {
	if seconds < MinDuration || seconds > MaxDuration {
		return nil, fmt.Errorf("%w: %d seconds (must be %d-%d)", ErrInvalidDuration, seconds, MinDuration, MaxDuration)
	}

	r.mu.Lock()
	if err := r.checkStartLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.opening = true
	src := r.src
	r.mu.Unlock()

	// Open runs unlocked; opening keeps other starts and transcriptions out.
	stream, err := src.Open()
	s := newSession(uuid.NewString(), time.Now(), seconds, r.cfg.ChunkFrames)

	r.mu.Lock()
	r.opening = false
	if err == nil {
		if err = r.checkStartLocked(); err != nil {
			stream.Close()
			r.mu.Unlock()
			return nil, err
		}
	}
	if err != nil {
		s.setResult(StopNone, nil, err)
		close(s.done)
		r.cur = s
		r.state = Failed
		r.mu.Unlock()
		log.Errorf("recording_open_failed: %v", err)
		return nil, err
	}
	r.cur = s
	r.state = Recording
	r.mu.Unlock()

	log.RecordingStart(s.ID, seconds)
	r.postState(Update{SessionID: s.ID, State: Recording})

	go r.capture(s, stream)
	go r.timer(s)
	return s, nil
}

func (r *Recorder) checkStartLocked() error {
	if r.opening {
		return fmt.Errorf("%w: a recording is already starting", ErrInvalidState)
	}
	switch r.state {
	case Recording, Stopping, Transcribing:
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, r.state)
	}
	return nil
}

// RequestStop asks the running capture loop to finish at its next chunk
// boundary. The file is saved asynchronously; use Wait to observe it.
func (r *Recorder) RequestStop() error {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: no recording in progress", ErrInvalidState)
	}
	return r.requestStop(s, StopRequested)
}

func (r *Recorder) requestStop(s *Session, reason StopReason) error {
	r.mu.Lock()
	if r.cur != s || r.state != Recording {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: no recording in progress (%s)", ErrInvalidState, state)
	}
	r.state = Stopping
	r.mu.Unlock()

	s.signalStop(reason)
	log.Info("recording_stop: " + reason.String())
	r.postState(Update{SessionID: s.ID, State: Stopping, Progress: s.snapshot(Stopping, "").Progress})
	return nil
}

// Wait blocks until the current session has been saved or has failed.
func (r *Recorder) Wait() Snapshot {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()
	if s == nil {
		return Snapshot{State: r.State()}
	}
	<-s.done
	snap, _ := r.Current()
	return snap
}

func (r *Recorder) timer(s *Session) {
	t := time.NewTimer(s.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		r.requestStop(s, StopTimer)
	case <-s.done:
	}
}

func (r *Recorder) capture(s *Session, stream audio.ChunkReader) {
	limit := int(math.Ceil(s.expected))
	reason := StopFullDuration
	var readErr error

	for {
		if why, ok := s.stopRequested(); ok {
			reason = why
			break
		}
		if s.len() >= limit {
			break
		}
		chunk, err := stream.ReadChunk()
		if err != nil {
			readErr = err
			reason = StopReadError
			break
		}
		n, progress := s.append(chunk)
		r.post(Update{
			SessionID: s.ID,
			State:     Recording,
			Progress:  progress,
			Chunks:    n,
			Level:     encoder.RMS(chunk),
			Elapsed:   time.Since(s.StartedAt),
		})
	}

	closeErr := stream.Close()
	r.finish(s, reason, readErr, closeErr)
}

// finish is the single exit of a session: it runs exactly once, after the
// device is closed, whichever trigger ended the loop.
func (r *Recorder) finish(s *Session, reason StopReason, readErr, closeErr error) {
	defer close(s.done)

	err := closeErr
	if err == nil {
		err = r.save(s)
	}
	if readErr != nil {
		log.Warnf("recording_read_error: %v", readErr)
	}

	r.mu.Lock()
	s.setResult(reason, readErr, err)
	if r.cur == s {
		if err != nil {
			r.state = Failed
		} else {
			r.state = Saved
		}
	}
	snap := s.snapshot(r.state, r.cfg.AudioPath)
	r.mu.Unlock()

	if err != nil {
		log.Errorf("recording_failed: %v", err)
	} else {
		log.RecordingSaved(s.ID, reason.String(), snap.Chunks, snap.Recorded().Seconds(), r.cfg.AudioPath)
	}
	r.postState(Update{
		SessionID: s.ID,
		State:     snap.State,
		Progress:  snap.Progress,
		Chunks:    snap.Chunks,
		Elapsed:   time.Since(s.StartedAt),
		ReadErr:   readErr,
		Err:       err,
	})
}

func (r *Recorder) save(s *Session) error {
	pcm := s.pcm()
	err := atomicfile.Write(r.cfg.AudioPath, func(f *os.File) error {
		return encoder.WriteWAV(f, pcm)
	})
	if err != nil {
		return err
	}
	if r.cfg.ArchivePath != "" {
		if err := atomicfile.Write(r.cfg.ArchivePath, func(f *os.File) error {
			return encoder.WriteFLAC(f, pcm)
		}); err != nil {
			log.Warnf("archive_write_failed: %v", err)
		}
	}
	return nil
}

// CheckTranscribe reports whether BeginTranscription would succeed now.
func (r *Recorder) CheckTranscribe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkTranscribeLocked()
}

func (r *Recorder) checkTranscribeLocked() error {
	if r.opening {
		return fmt.Errorf("%w: a recording is starting", ErrInvalidState)
	}
	switch r.state {
	case Saved, Done:
		return nil
	case Transcribing:
		return fmt.Errorf("%w: transcription already running", ErrInvalidState)
	case Recording, Stopping:
		return fmt.Errorf("%w: recording in progress", ErrInvalidState)
	}
	return fmt.Errorf("%w: no saved recording", ErrInvalidState)
}

// BeginTranscription moves a saved session into Transcribing and returns
// the audio file to transcribe.
func (r *Recorder) BeginTranscription() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkTranscribeLocked(); err != nil {
		return "", err
	}
	r.state = Transcribing
	r.postLocked()
	return r.cfg.AudioPath, nil
}

// EndTranscription records the outcome: Done on success, back to Saved on
// failure so the user can retry.
func (r *Recorder) EndTranscription(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Transcribing {
		return
	}
	if err != nil {
		r.state = Saved
	} else {
		r.state = Done
	}
	r.postLocked()
}

func (r *Recorder) postLocked() {
	u := Update{State: r.state}
	if r.cur != nil {
		snap := r.cur.snapshot(r.state, "")
		u.SessionID, u.Progress, u.Chunks = snap.ID, snap.Progress, snap.Chunks
	}
	r.postState(u)
}

// post delivers a per-chunk update if there is room.
func (r *Recorder) post(u Update) {
	select {
	case r.updates <- u:
	default:
	}
}

// postState never blocks and never loses u: when the buffer is full the
// oldest queued update is discarded instead.
func (r *Recorder) postState(u Update) {
	for {
		select {
		case r.updates <- u:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}
