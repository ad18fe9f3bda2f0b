// Package config layers defaults, an optional YAML file, a .env file,
// SCRIBE_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scribe/hotkey"
	"scribe/recorder"
)

const (
	DefaultDuration       = 10
	DefaultAudioPath      = "output.wav"
	DefaultTranscriptPath = "transcription.txt"
	DefaultModelPath      = "models/ggml-small.bin"
	DefaultWhisperBinary  = "whisper-cli"
	DefaultLanguage       = "en"
)

type Config struct {
	Duration       int    `yaml:"duration"`
	AudioPath      string `yaml:"audio_path"`
	TranscriptPath string `yaml:"transcript_path"`
	ArchivePath    string `yaml:"archive_path,omitempty"`
	Device         string `yaml:"device,omitempty"`

	ModelPath     string `yaml:"model"`
	WhisperBinary string `yaml:"whisper_binary"`
	Language      string `yaml:"language"`
	Threads       int    `yaml:"threads,omitempty"`

	Hotkey  string `yaml:"hotkey"`
	Beep    bool   `yaml:"beep"`
	LogPath string `yaml:"log_path,omitempty"`
}

func Default() Config {
	return Config{
		Duration:       DefaultDuration,
		AudioPath:      DefaultAudioPath,
		TranscriptPath: DefaultTranscriptPath,
		ModelPath:      DefaultModelPath,
		WhisperBinary:  DefaultWhisperBinary,
		Language:       DefaultLanguage,
		Hotkey:         hotkey.DefaultBinding,
		Beep:           true,
	}
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads the first .env file found without overriding variables
// that are already set.
func LoadDotEnv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return "", fmt.Errorf("error loading %s file: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// ApplyEnv overlays SCRIBE_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"SCRIBE_AUDIO":      &c.AudioPath,
		"SCRIBE_TRANSCRIPT": &c.TranscriptPath,
		"SCRIBE_ARCHIVE":    &c.ArchivePath,
		"SCRIBE_DEVICE":     &c.Device,
		"SCRIBE_MODEL":      &c.ModelPath,
		"SCRIBE_WHISPER":    &c.WhisperBinary,
		"SCRIBE_LANG":       &c.Language,
		"SCRIBE_HOTKEY":     &c.Hotkey,
		"SCRIBE_LOG_PATH":   &c.LogPath,
	}
	for k, dst := range str {
		if v, ok := os.LookupEnv(k); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"SCRIBE_DURATION": &c.Duration,
		"SCRIBE_THREADS":  &c.Threads,
	}
	for k, dst := range ints {
		v, ok := os.LookupEnv(k)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("SCRIBE_BEEP"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SCRIBE_BEEP: %w", err)
		}
		c.Beep = b
	}
	return nil
}

// RegisterFlags binds command-line flags to c; current values become the
// flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Duration, "duration", c.Duration, fmt.Sprintf("Recording length in seconds (%d-%d)", recorder.MinDuration, recorder.MaxDuration))
	fs.StringVar(&c.AudioPath, "audio", c.AudioPath, "WAV file written after each recording")
	fs.StringVar(&c.TranscriptPath, "transcript", c.TranscriptPath, "Text file written after each transcription")
	fs.StringVar(&c.ArchivePath, "archive", c.ArchivePath, "Also keep a FLAC copy of each recording at this path")
	fs.StringVar(&c.Device, "device", c.Device, "Capture device name (default: system default)")
	fs.StringVar(&c.ModelPath, "model", c.ModelPath, "Path to the whisper.cpp ggml model")
	fs.StringVar(&c.WhisperBinary, "whisper", c.WhisperBinary, "whisper.cpp command line binary")
	fs.StringVar(&c.Language, "lang", c.Language, "Spoken language code (empty or auto to detect)")
	fs.IntVar(&c.Threads, "threads", c.Threads, "Threads used by the model (0 = whisper default)")
	fs.StringVar(&c.Hotkey, "hotkey", c.Hotkey, "Global hotkey that starts or stops a recording")
	fs.BoolVar(&c.Beep, "beep", c.Beep, "Play a sound when recording starts, is saved, or fails")
	fs.StringVar(&c.LogPath, "logpath", c.LogPath, "Log directory (default: OS-specific location)")
}

func (c Config) Validate() error {
	var errs []error
	if c.Duration < recorder.MinDuration || c.Duration > recorder.MaxDuration {
		errs = append(errs, fmt.Errorf("duration %d out of range %d-%d", c.Duration, recorder.MinDuration, recorder.MaxDuration))
	}
	if c.AudioPath == "" {
		errs = append(errs, errors.New("audio path is empty"))
	}
	if c.TranscriptPath == "" {
		errs = append(errs, errors.New("transcript path is empty"))
	}
	if c.AudioPath != "" && c.AudioPath == c.TranscriptPath {
		errs = append(errs, errors.New("audio and transcript paths are the same file"))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("threads %d is negative", c.Threads))
	}
	if _, err := hotkey.ParseBinding(c.Hotkey); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PathFromArgs finds -config in args before flags are parsed, falling back
// to $SCRIBE_CONFIG.
func PathFromArgs(args []string) string {
	for i, a := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("SCRIBE_CONFIG")
}

// Load builds the configuration for args (without the program name).
// Flags are registered on fs but not parsed.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	c := Default()
	if _, err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if path := PathFromArgs(args); path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	c.RegisterFlags(fs)
	fs.String("config", "", "YAML config file (or $SCRIBE_CONFIG)")
	return &c, nil
}
