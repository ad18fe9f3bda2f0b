package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"scribe/atomicfile"
	"scribe/audio"
	"scribe/clipboard"
	"scribe/encoder"
	"scribe/hotkey"
	"scribe/transcriber"
)

// silenceRMS is the normalized level below which a capture is reported as
// silent.
const silenceRMS = 0.001

type Options struct {
	Out io.Writer

	Audio    audio.Context
	AudioErr error
	Device   string
	Capture  time.Duration

	Model    transcriber.Model
	ModelErr error

	AudioPath      string
	TranscriptPath string

	Hotkey hotkey.Binding
	// Interactive waits for the user to press the hotkey.
	Interactive bool
}

type check struct {
	name string
	run  func(*state) (string, error)
	// optional checks print WARN instead of FAIL
	optional bool
}

type state struct {
	opts Options
	pcm  []byte
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Capture <= 0 {
		opts.Capture = time.Second
	}
	if opts.Interactive {
		resetTerminal()
		setupInterruptHandler()
	}
	out := opts.Out

	fmt.Fprintln(out, "scribe doctor - system diagnostics")
	fmt.Fprintln(out, "==================================")

	checks := []check{
		{name: "Audio backend", run: checkBackend},
		{name: "Microphone", run: checkMicrophone},
		{name: "Speech model", run: checkModel},
		{name: "Output files", run: checkOutputs},
		{name: "Clipboard", run: checkClipboard, optional: true},
		{name: "Hotkey", run: checkHotkey, optional: true},
	}

	st := &state{opts: opts}
	allPass := true
	for i, c := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		detail, err := c.run(st)
		switch {
		case err == nil:
			fmt.Fprintf(out, "  PASS: %s\n", detail)
		case c.optional:
			fmt.Fprintf(out, "  WARN: %v\n", err)
		default:
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			allPass = false
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func checkBackend(st *state) (string, error) {
	if st.opts.AudioErr != nil {
		return "", fmt.Errorf("cannot connect to audio: %w", st.opts.AudioErr)
	}
	if st.opts.Audio == nil {
		return "", errors.New("no audio backend")
	}
	devices, err := st.opts.Audio.Devices()
	if err != nil {
		return "", fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("no capture devices found")
	}
	for _, d := range devices {
		fmt.Fprintf(st.opts.Out, "  - %s\n", d.Name)
	}
	return fmt.Sprintf("%d capture device(s)", len(devices)), nil
}

func checkMicrophone(st *state) (string, error) {
	if st.opts.Audio == nil {
		return "", errors.New("skipped: no audio backend")
	}
	device, err := audio.FindDevice(st.opts.Audio, st.opts.Device)
	if err != nil {
		return "", err
	}
	stream, err := audio.Open(st.opts.Audio, device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	want := int(st.opts.Capture.Seconds() * encoder.SampleRate * encoder.BytesPerFrame)
	for len(st.pcm) < want {
		chunk, err := stream.ReadChunk()
		if err != nil {
			return "", err
		}
		st.pcm = append(st.pcm, chunk...)
	}

	level := encoder.RMS(st.pcm)
	if level < silenceRMS {
		return fmt.Sprintf("captured %v from %s, but it is silent (rms %.3f); check the input volume",
			encoder.Duration(len(st.pcm)), stream.DeviceName(), level), nil
	}
	return fmt.Sprintf("captured %v from %s (rms %.3f)", encoder.Duration(len(st.pcm)), stream.DeviceName(), level), nil
}

// checkModel loads the model and, when the microphone check captured
// audio, runs it on that sample.
func checkModel(st *state) (string, error) {
	tr := transcriber.New(st.opts.Model, st.opts.ModelErr, "")
	if err := tr.Available(); err != nil {
		return "", err
	}
	if len(st.pcm) == 0 {
		return fmt.Sprintf("%s loaded", tr.ModelName()), nil
	}

	dir, err := os.MkdirTemp("", "scribe-doctor-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "sample.wav")
	if err := atomicfile.Write(wavPath, func(f *os.File) error { return encoder.WriteWAV(f, st.pcm) }); err != nil {
		return "", err
	}
	tr = transcriber.New(st.opts.Model, nil, filepath.Join(dir, "sample.txt"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := tr.Transcribe(ctx, wavPath)
	if err != nil {
		return "", err
	}
	text := res.Text
	if text == "" {
		text = "(no speech detected)"
	}
	return fmt.Sprintf("%s transcribed the sample in %v: %s", tr.ModelName(), res.Elapsed.Round(time.Millisecond), text), nil
}

func checkOutputs(st *state) (string, error) {
	for _, p := range []string{st.opts.AudioPath, st.opts.TranscriptPath} {
		if p == "" {
			continue
		}
		if err := atomicfile.CheckWritable(p); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s and %s are writable", st.opts.AudioPath, st.opts.TranscriptPath), nil
}

func checkClipboard(*state) (string, error) {
	if !clipboard.Available() {
		return "", fmt.Errorf("%w: copying transcripts is disabled", clipboard.ErrUnsupported)
	}
	return "clipboard available", nil
}

func checkHotkey(st *state) (string, error) {
	detail, err := hotkey.Diagnose()
	if err != nil || !st.opts.Interactive {
		return detail, err
	}

	fmt.Fprintf(st.opts.Out, "  Press %s...\n", st.opts.Hotkey)
	hk := hotkey.New(st.opts.Hotkey)
	if err := hk.Register(); err != nil {
		return "", fmt.Errorf("could not register hotkey: %w", err)
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// the hotkey may leave the terminal in raw mode
		resetTerminal()
		return "hotkey detected", nil
	case <-time.After(10 * time.Second):
		return "", errors.New("timeout waiting for hotkey")
	}
}
