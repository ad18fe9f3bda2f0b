package audio

import (
	"errors"
	"fmt"
	"sync"

	"scribe/encoder"
)

var (
	ErrDevice     = errors.New("audio device unavailable")
	ErrStreamRead = errors.New("audio stream read failed")
)

// Chunk is a fixed-size run of PCM16 mono frames. It is never modified
// after ReadChunk returns it.
type Chunk []byte

func (c Chunk) Frames() int { return len(c) / encoder.BytesPerFrame }

type ChunkReader interface {
	ReadChunk() (Chunk, error)
	Close() error
}

// Stream turns the push-style backend callback into blocking fixed-size
// chunk reads.
type Stream struct {
	capture    CaptureDevice
	chunkBytes int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	err     error
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// Open starts capturing from device (nil for the system default). The
// returned stream must be closed; Close is safe to call more than once.
func Open(ctx Context, device *DeviceInfo, cfg CaptureConfig) (*Stream, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: no audio backend", ErrDevice)
	}
	if cfg.Channels != encoder.Channels {
		return nil, fmt.Errorf("%w: %d channels requested, only mono is supported", ErrDevice, cfg.Channels)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}

	capture, err := ctx.NewCapture(device, cfg)
	if err != nil {
		if errors.Is(err, ErrDevice) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	return openCapture(capture, cfg.ChunkFrames)
}

func openCapture(capture CaptureDevice, chunkFrames int) (*Stream, error) {
	s := &Stream{
		capture:    capture,
		chunkBytes: chunkFrames * encoder.BytesPerFrame,
	}
	s.cond = sync.NewCond(&s.mu)

	capture.SetCallback(s.push)
	capture.SetFaultCallback(s.fail)
	if err := capture.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: starting %s: %w", ErrDevice, capture.DeviceName(), err)
	}
	return s, nil
}

func (s *Stream) DeviceName() string { return s.capture.DeviceName() }

func (s *Stream) push(data []byte, _ uint32) {
	s.mu.Lock()
	if !s.closed && s.err == nil {
		s.pending = append(s.pending, data...)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if !s.closed && s.err == nil {
		s.err = fmt.Errorf("%w: %s: %w", ErrStreamRead, s.capture.DeviceName(), err)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// ReadChunk blocks until a full chunk is buffered. After a device fault the
// remaining buffered frames are returned as one short chunk before the
// fault itself is reported.
func (s *Stream) ReadChunk() (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) < s.chunkBytes && s.err == nil && !s.closed {
		s.cond.Wait()
	}
	if len(s.pending) >= s.chunkBytes {
		return s.take(s.chunkBytes), nil
	}
	if tail := len(s.pending) &^ 1; tail > 0 && !s.closed {
		return s.take(tail), nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, fmt.Errorf("%w: stream closed", ErrStreamRead)
}

func (s *Stream) take(n int) Chunk {
	c := make(Chunk, n)
	copy(c, s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return c
}

// Close stops the device and releases it. Blocked readers are woken.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.cond.Broadcast()
		s.mu.Unlock()

		s.capture.ClearCallback()
		s.capture.Stop()
		if err := s.capture.Close(); err != nil {
			s.closeErr = fmt.Errorf("%w: closing %s: %w", ErrDevice, s.capture.DeviceName(), err)
		}
	})
	return s.closeErr
}

// Microphone is a reusable handle on one input device; every Open starts a
// new Stream.
type Microphone struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
}

func NewMicrophone(ctx Context, device *DeviceInfo, config CaptureConfig) *Microphone {
	return &Microphone{ctx: ctx, device: device, config: config}
}

func (m *Microphone) Open() (ChunkReader, error) {
	s, err := Open(m.ctx, m.device, m.config)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Microphone) Name() string {
	if m.device != nil {
		return m.device.Name
	}
	return "system default"
}
