package transcriber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"scribe/atomicfile"
	"scribe/encoder"
)

func writeWAV(t *testing.T, pcm []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := encoder.WriteWAV(f, pcm); err != nil {
		t.Fatal(err)
	}
	return path
}

func silence(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*encoder.SampleRate)*encoder.BytesPerFrame)
}

func TestTranscribeWritesExactText(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "transcription.txt")
	os.WriteFile(out, []byte("previous content that must go away"), 0644)

	tr := New(NewFake("hello world", nil), nil, out)
	res, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if res.SourceFile != audio {
		t.Errorf("SourceFile = %q, want %q", res.SourceFile, audio)
	}
	if res.AudioLength != time.Second {
		t.Errorf("AudioLength = %v, want 1s", res.AudioLength)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("transcript file = %q, want %q", data, "hello world")
	}
}

func TestTranscribeTrimsWhitespace(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "transcription.txt")

	tr := New(NewFake("  hello world\n", nil), nil, out)
	res, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestModelUnavailable(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "transcription.txt")
	loadErr := errors.New("model file missing")

	tr := New(nil, loadErr, out)
	for range 2 {
		_, err := tr.Transcribe(context.Background(), audio)
		if !errors.Is(err, ErrModelUnavailable) || !errors.Is(err, loadErr) {
			t.Fatalf("err = %v, want ErrModelUnavailable wrapping load error", err)
		}
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("transcript should not exist, stat err = %v", err)
	}
	if tr.ModelName() != "none" {
		t.Errorf("ModelName = %q", tr.ModelName())
	}
}

func TestNoModelConfigured(t *testing.T) {
	tr := New(nil, nil, "unused.txt")
	if err := tr.Available(); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Available() = %v, want ErrModelUnavailable", err)
	}
}

func TestTranscribeBadInput(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.wav")
	os.WriteFile(junk, []byte("this is not a wav file at all, not even close"), 0644)

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "nope.wav")},
		{"corrupt", junk},
		{"empty", writeWAV(t, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := NewFake("should not be used", nil)
			tr := New(model, nil, filepath.Join(dir, tt.name+".txt"))
			_, err := tr.Transcribe(context.Background(), tt.path)
			if !errors.Is(err, ErrTranscription) {
				t.Fatalf("err = %v, want ErrTranscription", err)
			}
			if model.Calls() != 0 {
				t.Errorf("model called %d times for bad input", model.Calls())
			}
		})
	}
}

func TestModelFailure(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "transcription.txt")

	tr := New(NewFake("", errors.New("decoder crashed")), nil, out)
	_, err := tr.Transcribe(context.Background(), audio)
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("err = %v, want ErrTranscription", err)
	}
	if !strings.Contains(err.Error(), "decoder crashed") {
		t.Errorf("err = %v, want model error included", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("transcript should not exist after failure")
	}
}

func TestTranscriptWriteFailure(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "missing", "transcription.txt")

	tr := New(NewFake("hello world", nil), nil, out)
	if _, err := tr.Transcribe(context.Background(), audio); !errors.Is(err, atomicfile.ErrWrite) {
		t.Fatalf("err = %v, want ErrWrite", err)
	}
}

func TestConcurrentTranscribeRejected(t *testing.T) {
	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(t.TempDir(), "transcription.txt")

	model := NewFake("hello world", nil)
	model.Delay = 300 * time.Millisecond
	tr := New(model, nil, out)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Transcribe(context.Background(), audio)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for model.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := tr.Transcribe(context.Background(), audio); !errors.Is(err, ErrBusy) {
		t.Errorf("second call err = %v, want ErrBusy", err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestLoadWhisperErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadWhisper(WhisperConfig{Binary: filepath.Join(dir, "no-such-binary"), ModelPath: "x"}); err == nil {
		t.Error("expected error for missing binary")
	}

	if runtime.GOOS == "windows" {
		return
	}
	bin := writeScript(t, dir, "exit 0\n")
	if _, err := LoadWhisper(WhisperConfig{Binary: bin, ModelPath: filepath.Join(dir, "missing.bin")}); err == nil {
		t.Error("expected error for missing model")
	}
	empty := filepath.Join(dir, "empty.bin")
	os.WriteFile(empty, nil, 0644)
	if _, err := LoadWhisper(WhisperConfig{Binary: bin, ModelPath: empty}); err == nil {
		t.Error("expected error for empty model")
	}
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeModel(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ggml-tiny.bin")
	if err := os.WriteFile(path, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Mock whisper-cli: writes two segments to <-of>.txt.
const mockWhisper = `
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf ' hello\n world \n' > "$out.txt"
`

func TestWhisperTranscribe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script mock")
	}
	dir := t.TempDir()
	w, err := LoadWhisper(WhisperConfig{
		Binary:    writeScript(t, dir, mockWhisper),
		ModelPath: writeModel(t, dir),
		Language:  "en",
		Threads:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.Name() != "ggml-tiny" {
		t.Errorf("Name = %q", w.Name())
	}

	audio := writeWAV(t, silence(time.Second))
	out := filepath.Join(dir, "transcription.txt")
	res, err := New(w, nil, out).Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
}

func TestWhisperFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script mock")
	}
	dir := t.TempDir()
	w, err := LoadWhisper(WhisperConfig{
		Binary:    writeScript(t, dir, "echo 'error: failed to read audio' >&2\nexit 3\n"),
		ModelPath: writeModel(t, dir),
	})
	if err != nil {
		t.Fatal(err)
	}

	audio := writeWAV(t, silence(time.Second))
	_, err = New(w, nil, filepath.Join(dir, "t.txt")).Transcribe(context.Background(), audio)
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("err = %v, want ErrTranscription", err)
	}
	if !strings.Contains(err.Error(), "failed to read audio") {
		t.Errorf("err = %v, want stderr included", err)
	}
}

func TestWhisperArgs(t *testing.T) {
	w := &Whisper{binary: "whisper-cli", model: "m.bin", threads: 4}
	args := strings.Join(w.args("in.wav", "/tmp/out"), " ")
	for _, want := range []string{"-m m.bin", "-f in.wav", "-l auto", "-otxt", "-of /tmp/out", "-t 4", "-nt"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	w.SetLanguage("de")
	if got := w.GetLanguage(); got != "de" {
		t.Errorf("GetLanguage = %q", got)
	}
	if !strings.Contains(strings.Join(w.args("in.wav", "o"), " "), "-l de") {
		t.Error("language not passed")
	}
}
