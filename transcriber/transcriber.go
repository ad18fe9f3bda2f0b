// Package transcriber turns a saved recording into text with a model that
// is loaded once per process, and persists the result to the transcript file.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"scribe/atomicfile"
	"scribe/encoder"
	"scribe/log"
)

var (
	ErrModelUnavailable = errors.New("speech model unavailable")
	ErrTranscription    = errors.New("transcription failed")
	ErrBusy             = errors.New("transcription already running")
)

// Model is a speech-to-text engine that works on whole files.
type Model interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Result struct {
	Text           string
	SourceFile     string
	TranscriptPath string
	AudioLength    time.Duration
	Elapsed        time.Duration
}

type Transcriber struct {
	model          Model
	initErr        error
	transcriptPath string

	mu sync.Mutex
}

// New wraps a model loaded at startup. A non-nil initErr disables
// transcription for the lifetime of the Transcriber.
func New(model Model, initErr error, transcriptPath string) *Transcriber {
	if model == nil && initErr == nil {
		initErr = errors.New("no model configured")
	}
	return &Transcriber{model: model, initErr: initErr, transcriptPath: transcriptPath}
}

// Available returns the startup error, wrapped as ErrModelUnavailable.
func (t *Transcriber) Available() error {
	if t.initErr != nil {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, t.initErr)
	}
	return nil
}

func (t *Transcriber) ModelName() string {
	if t.model == nil {
		return "none"
	}
	return t.model.Name()
}

func (t *Transcriber) TranscriptPath() string { return t.transcriptPath }

// Transcribe runs the model on a WAV file and overwrites the transcript
// file with the trimmed text. Calls are serialized; a call made while
// another is running fails with ErrBusy.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	if err := t.Available(); err != nil {
		return Result{}, err
	}
	if !t.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer t.mu.Unlock()

	info, err := encoder.ReadWAVInfo(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	if !info.IsSpeechFormat() {
		return Result{}, fmt.Errorf("%w: %s is %d Hz, %d ch, %d bit; want 16000 Hz mono 16 bit",
			ErrTranscription, audioPath, info.SampleRate, info.Channels, info.BitDepth)
	}
	if info.DataBytes == 0 {
		return Result{}, fmt.Errorf("%w: %s contains no audio", ErrTranscription, audioPath)
	}

	start := time.Now()
	text, err := t.model.Transcribe(ctx, audioPath)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ErrTranscription) || errors.Is(err, ErrModelUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %s: %w", ErrTranscription, t.model.Name(), err)
	}
	text = strings.TrimSpace(text)

	if err := atomicfile.WriteFile(t.transcriptPath, []byte(text)); err != nil {
		return Result{}, err
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.TranscriptionDone(log.TranscriptionMetrics{
		Model:         t.model.Name(),
		AudioLengthS:  info.Duration().Seconds(),
		TotalTimeMs:   float64(elapsed.Milliseconds()),
		Chars:         len(text),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
	})
	log.TranscriptionText(text)

	return Result{
		Text:           text,
		SourceFile:     audioPath,
		TranscriptPath: t.transcriptPath,
		AudioLength:    info.Duration(),
		Elapsed:        elapsed,
	}, nil
}
