package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"scribe/atomicfile"
	"scribe/audio"
	"scribe/clipboard"
	"scribe/log"
	"scribe/recorder"
	"scribe/transcriber"
)

// Actions says which operations the user can trigger right now.
type Actions struct {
	CanStart      bool
	CanStop       bool
	CanTranscribe bool
}

// Cues are audible feedback for recording events.
type Cues interface {
	Start()
	End()
	Error()
}

type silentCues struct{}

func (silentCues) Start() {}
func (silentCues) End()   {}
func (silentCues) Error() {}

// Controller is the single entry point for user operations. It never
// panics on pipeline errors; every failure reaches the sink as a message.
type Controller struct {
	rec  *recorder.Recorder
	tr   *transcriber.Transcriber
	sink EventSink
	cues Cues

	mu             sync.Mutex
	duration       int
	lastText       string
	recordings     int
	transcriptions int
}

func NewController(rec *recorder.Recorder, tr *transcriber.Transcriber, sink EventSink, duration int) *Controller {
	return &Controller{rec: rec, tr: tr, sink: sink, cues: silentCues{}, duration: duration}
}

// SetCues must be called before Run.
func (c *Controller) SetCues(cues Cues) {
	if cues == nil {
		cues = silentCues{}
	}
	c.cues = cues
}

func (c *Controller) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// AdjustDuration changes the default recording length, clamped to the
// valid range.
func (c *Controller) AdjustDuration(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = min(max(c.duration+delta, recorder.MinDuration), recorder.MaxDuration)
	return c.duration
}

func (c *Controller) Actions() Actions {
	state := c.rec.State()
	return Actions{
		CanStart:      state != recorder.Recording && state != recorder.Stopping && state != recorder.Transcribing,
		CanStop:       state == recorder.Recording,
		CanTranscribe: (state == recorder.Saved || state == recorder.Done) && c.tr.Available() == nil,
	}
}

func (c *Controller) fail(err error) error {
	log.Warnf("operation rejected: %v", err)
	c.cues.Error()
	c.sink.Message(UserMessage(err), true)
	c.sink.ActionsChanged(c.Actions())
	return err
}

func (c *Controller) OnStartRequested(seconds int) error {
	s, err := c.rec.Start(seconds)
	if err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.recordings++
	c.mu.Unlock()
	c.cues.Start()
	c.sink.Message(fmt.Sprintf("Recording %ds (%s)", seconds, s.ID[:8]), false)
	c.sink.ActionsChanged(c.Actions())
	return nil
}

func (c *Controller) OnStopRequested() error {
	if err := c.rec.RequestStop(); err != nil {
		return c.fail(err)
	}
	c.sink.ActionsChanged(c.Actions())
	return nil
}

// OnTranscribeRequested blocks until the model has finished.
func (c *Controller) OnTranscribeRequested(ctx context.Context) (transcriber.Result, error) {
	if err := c.rec.CheckTranscribe(); err != nil {
		return transcriber.Result{}, c.fail(err)
	}
	if err := c.tr.Available(); err != nil {
		return transcriber.Result{}, c.fail(err)
	}
	path, err := c.rec.BeginTranscription()
	if err != nil {
		return transcriber.Result{}, c.fail(err)
	}
	c.sink.ActionsChanged(c.Actions())
	c.sink.Message("Transcribing with "+c.tr.ModelName()+"...", false)

	res, err := c.tr.Transcribe(ctx, path)
	c.rec.EndTranscription(err)
	if err != nil {
		return transcriber.Result{}, c.fail(err)
	}

	c.mu.Lock()
	c.lastText = res.Text
	c.transcriptions++
	c.mu.Unlock()

	c.sink.Transcription(res)
	c.sink.ActionsChanged(c.Actions())
	return res, nil
}

// Toggle starts a recording with the current duration, or stops the
// running one.
func (c *Controller) Toggle() error {
	if c.rec.State() == recorder.Recording {
		return c.OnStopRequested()
	}
	return c.OnStartRequested(c.Duration())
}

// StopIfRecording ends a push-to-talk recording; it is a no-op otherwise.
func (c *Controller) StopIfRecording() {
	if c.rec.State() == recorder.Recording {
		c.OnStopRequested()
	}
}

func (c *Controller) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastText
}

func (c *Controller) CopyLast() error {
	text := c.LastText()
	if text == "" {
		return c.fail(errors.New("no transcript to copy yet"))
	}
	if err := clipboard.Copy(text); err != nil {
		return c.fail(err)
	}
	c.sink.Message("Copied transcript to clipboard", false)
	return nil
}

// SwitchDevice points future recordings at another input.
func (c *Controller) SwitchDevice(src recorder.Source, name string) error {
	if err := c.rec.SetSource(src); err != nil {
		return c.fail(err)
	}
	log.Info("device_switched: " + name)
	c.sink.Message("mic: "+name, false)
	return nil
}

func (c *Controller) Stats() (recordings, transcriptions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordings, c.transcriptions
}

// Run forwards recorder updates to the sink until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	last := c.rec.State()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-c.rec.Updates():
			c.sink.RecordingUpdate(u)
			if u.State == last {
				continue
			}
			prev := last
			last = u.State
			switch {
			case u.State == recorder.Failed && u.Err != nil:
				c.cues.Error()
				c.sink.Message(UserMessage(u.Err), true)
			case u.State == recorder.Saved && prev == recorder.Transcribing:
			case u.State == recorder.Saved && u.ReadErr != nil:
				c.cues.Error()
				c.sink.Message(UserMessage(u.ReadErr), true)
			case u.State == recorder.Saved:
				c.cues.End()
				c.sink.Message("Saved "+c.rec.AudioPath(), false)
			}
			c.sink.ActionsChanged(c.Actions())
		}
	}
}

// UserMessage turns a pipeline error into text for the display.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, recorder.ErrInvalidDuration):
		return fmt.Sprintf("Duration must be %d-%d seconds", recorder.MinDuration, recorder.MaxDuration)
	case errors.Is(err, recorder.ErrInvalidState):
		return "Not available right now: " + err.Error()
	case errors.Is(err, transcriber.ErrBusy):
		return "A transcription is already running"
	case errors.Is(err, audio.ErrStreamRead):
		return "Microphone stopped mid-recording; kept what was captured: " + err.Error()
	case errors.Is(err, audio.ErrDevice):
		return "Microphone unavailable: " + err.Error()
	case errors.Is(err, atomicfile.ErrWrite):
		return "Could not save file: " + err.Error()
	case errors.Is(err, transcriber.ErrModelUnavailable):
		return "Speech model not loaded (restart after fixing): " + err.Error()
	case errors.Is(err, transcriber.ErrTranscription):
		return "Transcription failed, the recording is kept for another try: " + err.Error()
	case errors.Is(err, clipboard.ErrUnsupported):
		return "Clipboard unavailable (install xclip, xsel or wl-clipboard)"
	}
	return "Error: " + err.Error()
}
