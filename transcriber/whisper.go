package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

type WhisperConfig struct {
	Binary    string // whisper.cpp CLI, looked up on PATH when not a path
	ModelPath string // ggml model file
	Language  string // "" or "auto" lets the model detect it
	Threads   int
}

// Whisper runs the whisper.cpp command line tool on whole WAV files.
type Whisper struct {
	binary  string
	model   string
	threads int

	mu   sync.Mutex
	lang string
}

// LoadWhisper resolves the binary and checks the model file once. The
// returned error is meant to be handed to New, which reports it on every
// transcription attempt.
func LoadWhisper(cfg WhisperConfig) (*Whisper, error) {
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q: %w", cfg.Binary, err)
	}
	st, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", cfg.ModelPath, err)
	}
	if st.IsDir() || st.Size() == 0 {
		return nil, fmt.Errorf("model %q is not a model file", cfg.ModelPath)
	}
	return &Whisper{binary: bin, model: cfg.ModelPath, threads: cfg.Threads, lang: cfg.Language}, nil
}

func (w *Whisper) Name() string {
	return strings.TrimSuffix(filepath.Base(w.model), filepath.Ext(w.model))
}

func (w *Whisper) SetLanguage(lang string) {
	w.mu.Lock()
	w.lang = lang
	w.mu.Unlock()
}

func (w *Whisper) GetLanguage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lang
}

func (w *Whisper) args(audioPath, outBase string) []string {
	lang := w.GetLanguage()
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", w.model,
		"-f", audioPath,
		"-l", lang,
		"-nt", // no timestamps
		"-np", // no progress/system prints
		"-otxt",
		"-of", outBase,
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}
	return args
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	dir, err := os.MkdirTemp("", "scribe-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	outBase := filepath.Join(dir, "out")
	cmd := exec.CommandContext(ctx, w.binary, w.args(audioPath, outBase)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		return "", fmt.Errorf("%w (%s)", err, msg)
	}

	data, err := os.ReadFile(outBase + ".txt")
	if errors.Is(err, os.ErrNotExist) {
		// older builds ignore -of and only print to stdout
		data, err = stdout.Bytes(), nil
	}
	if err != nil {
		return "", err
	}
	return joinLines(string(data)), nil
}

// joinLines flattens whisper's one-segment-per-line output into a single
// paragraph.
func joinLines(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
