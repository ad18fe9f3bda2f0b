package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/atomicfile"
	"scribe/audio"
	"scribe/encoder"
)

const chunkFrames = 1024

var chunkDuration = time.Duration(chunkFrames) * time.Second / encoder.SampleRate

func newTestRecorder(t *testing.T, opts audio.FakeOptions) (*Recorder, *audio.FakeContext, string) {
	t.Helper()
	ctx := audio.NewFakeContext(audio.Tone(440, 2*time.Second), opts)
	mic := audio.NewMicrophone(ctx, nil, audio.CaptureConfig{
		SampleRate:  encoder.SampleRate,
		Channels:    encoder.Channels,
		ChunkFrames: chunkFrames,
	})
	path := filepath.Join(t.TempDir(), "output.wav")
	return New(mic, Config{AudioPath: path, ChunkFrames: chunkFrames}), ctx, path
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestFullDurationRecording(t *testing.T) {
	for _, seconds := range []int{MinDuration, 2, 7, MaxDuration} {
		t.Run(fmt.Sprintf("%ds", seconds), func(t *testing.T) {
			r, _, path := newTestRecorder(t, audio.FakeOptions{})

			s, err := r.Start(seconds)
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, s)

			snap := r.Wait()
			if snap.State != Saved {
				t.Fatalf("state = %s, want saved (err=%v)", snap.State, snap.Err)
			}
			if snap.StopReason != StopFullDuration && snap.StopReason != StopTimer {
				t.Errorf("stop reason = %s", snap.StopReason)
			}
			if snap.Progress != 100 {
				t.Errorf("progress = %.1f, want 100", snap.Progress)
			}

			info, err := encoder.ReadWAVInfo(path)
			if err != nil {
				t.Fatal(err)
			}
			if !info.IsSpeechFormat() {
				t.Errorf("unexpected format %+v", info)
			}
			want := time.Duration(seconds) * time.Second
			diff := info.Duration() - want
			if diff < 0 {
				diff = -diff
			}
			if diff > chunkDuration {
				t.Errorf("recorded %v, want within %v of %v", info.Duration(), chunkDuration, want)
			}
		})
	}
}

func TestProgressMonotonic(t *testing.T) {
	r, _, _ := newTestRecorder(t, audio.FakeOptions{})

	s, err := r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	last := -1.0
	for {
		select {
		case u := <-r.Updates():
			if u.SessionID != s.ID {
				continue
			}
			if u.Progress < last {
				t.Errorf("progress went backwards: %.2f after %.2f", u.Progress, last)
			}
			if u.Progress > 100 {
				t.Errorf("progress %.2f exceeds 100", u.Progress)
			}
			last = u.Progress
		default:
			if last != 100 {
				t.Errorf("final progress = %.2f, want 100", last)
			}
			return
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	r, _, path := newTestRecorder(t, audio.FakeOptions{})

	if err := r.RequestStop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if r.State() != Idle {
		t.Errorf("state = %s, want idle", r.State())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("audio file should not exist, stat err = %v", err)
	}
}

func TestStartWhileRecording(t *testing.T) {
	r, ctx, _ := newTestRecorder(t, audio.FakeOptions{Realtime: true})

	first, err := r.Start(5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(5); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second start err = %v, want ErrInvalidState", err)
	}
	if ctx.Opened() != 1 {
		t.Errorf("opened %d devices, want 1", ctx.Opened())
	}
	snap, _ := r.Current()
	if snap.ID != first.ID || snap.State != Recording {
		t.Errorf("current = %s/%s, want %s/recording", snap.ID, snap.State, first.ID)
	}

	if err := r.RequestStop(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, first)
	if got := r.Wait(); got.State != Saved || got.StopReason != StopRequested {
		t.Errorf("after stop: state=%s reason=%s", got.State, got.StopReason)
	}
}

func TestRequestStopTwice(t *testing.T) {
	r, _, _ := newTestRecorder(t, audio.FakeOptions{Realtime: true})

	s, err := r.Start(5)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RequestStop(); err != nil {
		t.Fatal(err)
	}
	if err := r.RequestStop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second stop err = %v, want ErrInvalidState", err)
	}
	waitDone(t, s)
	if got := r.Wait(); got.Recorded() >= 5*time.Second {
		t.Errorf("recorded %v after early stop", got.Recorded())
	}
}

func TestStartAfterSaved(t *testing.T) {
	r, ctx, _ := newTestRecorder(t, audio.FakeOptions{})

	s, err := r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	s2, err := r.Start(1)
	if err != nil {
		t.Fatalf("restart after saved: %v", err)
	}
	if s2.ID == s.ID {
		t.Error("new session reused the previous ID")
	}
	waitDone(t, s2)
	if ctx.Opened() != 2 {
		t.Errorf("opened %d devices, want 2", ctx.Opened())
	}
}

func TestInvalidDuration(t *testing.T) {
	r, ctx, _ := newTestRecorder(t, audio.FakeOptions{})

	for _, d := range []int{0, -1, MaxDuration + 1} {
		if _, err := r.Start(d); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Start(%d) err = %v, want ErrInvalidDuration", d, err)
		}
	}
	if ctx.Opened() != 0 {
		t.Errorf("opened %d devices for invalid durations", ctx.Opened())
	}
}

func TestReadErrorSavesPartial(t *testing.T) {
	r, _, path := newTestRecorder(t, audio.FakeOptions{FailAfter: 5})

	s, err := r.Start(3)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	snap := r.Wait()
	if snap.State != Saved {
		t.Fatalf("state = %s, want saved (err=%v)", snap.State, snap.Err)
	}
	if snap.StopReason != StopReadError {
		t.Errorf("stop reason = %s, want read_error", snap.StopReason)
	}
	if !errors.Is(snap.ReadErr, audio.ErrStreamRead) {
		t.Errorf("read err = %v, want ErrStreamRead", snap.ReadErr)
	}

	info, err := encoder.ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("partial recording is not a valid wav: %v", err)
	}
	if want := 5 * chunkDuration; info.Duration() != want {
		t.Errorf("duration = %v, want %v", info.Duration(), want)
	}
}

func TestDeviceOpenFailure(t *testing.T) {
	r, _, path := newTestRecorder(t, audio.FakeOptions{NoDevices: true})

	if _, err := r.Start(1); !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("err = %v, want ErrDevice", err)
	}
	if r.State() != Failed {
		t.Errorf("state = %s, want failed", r.State())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("audio file should not exist, stat err = %v", err)
	}
	if _, err := r.BeginTranscription(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("transcribe after failure err = %v", err)
	}
}

func TestCloseErrorFails(t *testing.T) {
	closeErr := errors.New("device busy")
	r, _, path := newTestRecorder(t, audio.FakeOptions{CloseErr: closeErr})

	s, err := r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	snap := r.Wait()
	if snap.State != Failed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if !errors.Is(snap.Err, audio.ErrDevice) || !errors.Is(snap.Err, closeErr) {
		t.Errorf("err = %v, want ErrDevice wrapping %v", snap.Err, closeErr)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("audio file should not exist, stat err = %v", err)
	}
}

func TestWriteFailure(t *testing.T) {
	ctx := audio.NewFakeContext(audio.Tone(440, time.Second), audio.FakeOptions{})
	mic := audio.NewMicrophone(ctx, nil, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: 1, ChunkFrames: chunkFrames})
	path := filepath.Join(t.TempDir(), "missing", "output.wav")
	r := New(mic, Config{AudioPath: path, ChunkFrames: chunkFrames})

	s, err := r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	snap := r.Wait()
	if snap.State != Failed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if !errors.Is(snap.Err, atomicfile.ErrWrite) {
		t.Errorf("err = %v, want ErrWrite", snap.Err)
	}
}

func TestArchiveWritten(t *testing.T) {
	ctx := audio.NewFakeContext(audio.Tone(440, time.Second), audio.FakeOptions{})
	mic := audio.NewMicrophone(ctx, nil, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: 1, ChunkFrames: chunkFrames})
	dir := t.TempDir()
	r := New(mic, Config{
		AudioPath:   filepath.Join(dir, "output.wav"),
		ArchivePath: filepath.Join(dir, "output.flac"),
		ChunkFrames: chunkFrames,
	})

	s, err := r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	data, err := os.ReadFile(filepath.Join(dir, "output.flac"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "fLaC" {
		t.Errorf("archive magic = %q", data[:4])
	}
}

func TestTranscriptionTransitions(t *testing.T) {
	r, _, path := newTestRecorder(t, audio.FakeOptions{Realtime: true})

	if _, err := r.BeginTranscription(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("transcribe while idle err = %v", err)
	}

	s, err := r.Start(5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.BeginTranscription(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("transcribe while recording err = %v", err)
	}
	if r.State() != Recording {
		t.Errorf("state = %s, want recording", r.State())
	}
	r.RequestStop()
	waitDone(t, s)

	got, err := r.BeginTranscription()
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if _, err := r.Start(1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("start while transcribing err = %v", err)
	}
	if _, err := r.BeginTranscription(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second transcription err = %v", err)
	}

	r.EndTranscription(errors.New("boom"))
	if r.State() != Saved {
		t.Errorf("after failed transcription state = %s, want saved", r.State())
	}

	if _, err := r.BeginTranscription(); err != nil {
		t.Fatal(err)
	}
	r.EndTranscription(nil)
	if r.State() != Done {
		t.Errorf("state = %s, want done", r.State())
	}
}

func TestSetSource(t *testing.T) {
	r, first, _ := newTestRecorder(t, audio.FakeOptions{Realtime: true})

	s, err := r.Start(5)
	if err != nil {
		t.Fatal(err)
	}
	second := audio.NewFakeContext(nil, audio.FakeOptions{})
	mic := audio.NewMicrophone(second, nil, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: 1, ChunkFrames: chunkFrames})
	if err := r.SetSource(mic); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("switch while recording err = %v", err)
	}
	r.RequestStop()
	waitDone(t, s)

	if err := r.SetSource(mic); err != nil {
		t.Fatal(err)
	}
	s, err = r.Start(1)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)
	if first.Opened() != 1 || second.Opened() != 1 {
		t.Errorf("opened first=%d second=%d, want 1 each", first.Opened(), second.Opened())
	}
}

// gatedSource holds Open until release is closed.
type gatedSource struct {
	Source
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Open() (audio.ChunkReader, error) {
	close(g.entered)
	<-g.release
	return g.Source.Open()
}

func TestStartOpensOutsideLock(t *testing.T) {
	r, ctx, _ := newTestRecorder(t, audio.FakeOptions{})
	mic := audio.NewMicrophone(ctx, nil, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: 1, ChunkFrames: chunkFrames})
	gate := &gatedSource{Source: mic, entered: make(chan struct{}), release: make(chan struct{})}
	if err := r.SetSource(gate); err != nil {
		t.Fatal(err)
	}

	started := make(chan error, 1)
	go func() {
		_, err := r.Start(1)
		started <- err
	}()
	<-gate.entered

	stateDone := make(chan State, 1)
	go func() { stateDone <- r.State() }()
	select {
	case <-stateDone:
	case <-time.After(time.Second):
		t.Fatal("State blocked while the device was opening")
	}

	if _, err := r.Start(1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start err = %v, want ErrInvalidState", err)
	}
	if _, err := r.BeginTranscription(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("BeginTranscription err = %v, want ErrInvalidState", err)
	}
	if err := r.SetSource(mic); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetSource err = %v, want ErrInvalidState", err)
	}

	close(gate.release)
	if err := <-started; err != nil {
		t.Fatal(err)
	}
	if snap := r.Wait(); snap.State != Saved {
		t.Errorf("state = %s, want saved", snap.State)
	}
	if ctx.Opened() != 1 {
		t.Errorf("Opened = %d, want 1", ctx.Opened())
	}
}

func TestStateUpdateSurvivesFullBuffer(t *testing.T) {
	r, _, _ := newTestRecorder(t, audio.FakeOptions{})

	// nobody reads Updates, so per-chunk updates overflow the buffer
	s, err := r.Start(30)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	var last Update
	n := 0
	for done := false; !done; {
		select {
		case u := <-r.Updates():
			last = u
			n++
		default:
			done = true
		}
	}
	if n > updateBuffer {
		t.Errorf("drained %d updates from a buffer of %d", n, updateBuffer)
	}
	if last.State != Saved || last.SessionID != s.ID {
		t.Errorf("last update = %s for %q, want saved for %q", last.State, last.SessionID, s.ID)
	}
}
