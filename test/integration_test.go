//go:build integration

package test_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/audio"
	"scribe/clipboard"
	"scribe/encoder"
)

var (
	testBinary string
	toneWAV    string
)

func TestMain(m *testing.M) {
	testBinary = os.Getenv("SCRIBE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "SCRIBE_TEST_BIN not set; build with: go build -o /tmp/scribe . && SCRIBE_TEST_BIN=/tmp/scribe go test -tags integration ./test")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "scribe-integration-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	toneWAV = filepath.Join(dir, "tone.wav")
	if err := writeWAV(toneWAV, audio.Tone(440, 3*time.Second)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func writeWAV(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return encoder.WriteWAV(f, pcm)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type run struct {
	dir    string
	logDir string
	out    string
}

func (r run) path(name string) string { return filepath.Join(r.dir, name) }

func runScribe(t *testing.T, stdin string, transcript string, args ...string) run {
	t.Helper()
	r := run{dir: t.TempDir(), logDir: t.TempDir()}
	cmdArgs := append([]string{
		"-logpath", r.logDir,
		"-audio", r.path("output.wav"),
		"-transcript", r.path("transcription.txt"),
		"-test", toneWAV,
	}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "SCRIBE_FAKE_TRANSCRIPT="+transcript)

	out, err := cmd.CombinedOutput()
	r.out = string(out)
	if err != nil {
		t.Fatalf("scribe exited with error: %v\noutput: %s", err, out)
	}
	return r
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestRecordAndTranscribe(t *testing.T) {
	r := runScribe(t, cmds("START 1", "WAIT", "TRANSCRIBE", "QUIT"), "hello world")

	if !strings.Contains(r.out, "RESULT saved") {
		t.Errorf("expected saved result:\n%s", r.out)
	}
	if !strings.Contains(r.out, "TEXT hello world") {
		t.Errorf("expected transcript line:\n%s", r.out)
	}

	info, err := encoder.ReadWAVInfo(r.path("output.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if d := info.Duration() - time.Second; d < 0 || d > 64*time.Millisecond {
		t.Errorf("recorded %v, want 1s within one chunk", info.Duration())
	}

	data, err := os.ReadFile(r.path("transcription.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("transcript = %q", data)
	}
	if !strings.Contains(readLog(t, r.logDir, "transcribe_log.txt"), "hello world") {
		t.Error("transcribe_log.txt missing text")
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "recording_saved", "transcription", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestEarlyStop(t *testing.T) {
	r := runScribe(t, cmds("START 10", "SLEEP 500", "STOP", "WAIT", "QUIT"), "x")
	if !strings.Contains(r.out, "reason=requested") {
		t.Errorf("expected requested stop:\n%s", r.out)
	}
	info, err := encoder.ReadWAVInfo(r.path("output.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Duration() >= 10*time.Second {
		t.Errorf("recorded %v after early stop", info.Duration())
	}
}

func TestInvalidOperations(t *testing.T) {
	r := runScribe(t, cmds("STOP", "TRANSCRIBE", "START 0", "QUIT"), "x")
	if strings.Count(r.out, "ERROR") != 3 {
		t.Errorf("expected 3 errors:\n%s", r.out)
	}
	if _, err := os.Stat(r.path("output.wav")); !os.IsNotExist(err) {
		t.Error("failed operations produced an audio file")
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive.flac")
	_ = runScribe(t, cmds("START 1", "WAIT", "QUIT"), "x", "-archive", archive)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "fLaC") {
		t.Error("archive is not a FLAC file")
	}
}

func TestCopyLast(t *testing.T) {
	if !clipboard.Available() {
		t.Skip("clipboard not available")
	}
	word := fmt.Sprintf("scribe-%d", time.Now().UnixNano())
	_ = runScribe(t, cmds("START 1", "WAIT", "TRANSCRIBE", "COPY", "QUIT"), word)

	clip, err := clipboard.Read()
	if err != nil {
		t.Skip("clipboard not readable")
	}
	if strings.TrimSpace(clip) != word {
		t.Errorf("clipboard = %q, want %q", clip, word)
	}
}

func TestDoctor(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command(testBinary, "-doctor", "-test", toneWAV, "-logpath", dir,
		"-audio", filepath.Join(dir, "o.wav"), "-transcript", filepath.Join(dir, "t.txt"))
	cmd.Env = append(os.Environ(), "SCRIBE_FAKE_TRANSCRIPT=doctor ok")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "doctor ok") {
		t.Errorf("doctor output missing transcription:\n%s", out)
	}
}
