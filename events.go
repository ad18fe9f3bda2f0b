package main

import (
	"fmt"
	"io"
	"sync"

	"scribe/recorder"
	"scribe/transcriber"
)

// EventSink is the display layer. The Controller calls it from its own
// goroutine and from whichever goroutine invoked an operation.
type EventSink interface {
	RecordingUpdate(u recorder.Update)
	ActionsChanged(a Actions)
	Transcription(res transcriber.Result)
	Message(text string, isErr bool)
}

// lineSink prints one line per event; used when the TUI is off and by the
// headless test mode.
type lineSink struct {
	mu        sync.Mutex
	w         io.Writer
	lastState recorder.State
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w, lastState: recorder.Idle}
}

func (s *lineSink) RecordingUpdate(u recorder.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.State == s.lastState {
		return
	}
	s.lastState = u.State
	fmt.Fprintf(s.w, "STATE %s\n", u.State)
}

func (s *lineSink) ActionsChanged(Actions) {}

func (s *lineSink) Transcription(res transcriber.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "TEXT %s\n", res.Text)
}

func (s *lineSink) Message(text string, isErr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isErr {
		fmt.Fprintf(s.w, "ERROR %s\n", text)
		return
	}
	fmt.Fprintf(s.w, "INFO %s\n", text)
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
