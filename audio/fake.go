package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"scribe/encoder"
)

var ErrFakeDisconnect = errors.New("fake device disconnected")

type FakeOptions struct {
	// Realtime paces chunks at the rate a real microphone would deliver them.
	Realtime bool
	// FailAfter simulates a disconnect after that many chunks; 0 disables.
	FailAfter int
	StartErr  error
	CloseErr  error
	// NoDevices makes NewCapture fail like a machine without a microphone.
	NoDevices bool
}

// FakeContext replays fixed PCM instead of a microphone. Once the PCM is
// exhausted it keeps delivering silence until stopped.
type FakeContext struct {
	pcm    []byte
	opts   FakeOptions
	opened atomic.Int32
}

func NewFakeContext(pcm []byte, opts FakeOptions) *FakeContext {
	return &FakeContext{pcm: pcm, opts: opts}
}

func NewFakeContextFromWAV(path string, opts FakeOptions) (*FakeContext, error) {
	pcm, err := encoder.ReadPCM(path)
	if err != nil {
		return nil, err
	}
	return NewFakeContext(pcm, opts), nil
}

// Tone generates a sine wave of the given frequency as PCM16 mono.
func Tone(freq float64, d time.Duration) []byte {
	n := int(d.Seconds() * encoder.SampleRate)
	pcm := make([]byte, n*encoder.BytesPerFrame)
	for i := range n {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/encoder.SampleRate) * 6000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.opts.NoDevices {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

// Opened reports how many captures have been created.
func (f *FakeContext) Opened() int { return int(f.opened.Load()) }

func (f *FakeContext) NewCapture(_ *DeviceInfo, cfg CaptureConfig) (CaptureDevice, error) {
	if f.opts.NoDevices {
		return nil, fmt.Errorf("%w: no input device", ErrDevice)
	}
	f.opened.Add(1)
	frames := cfg.ChunkFrames
	if frames <= 0 {
		frames = DefaultChunkFrames
	}
	return &FakeCapture{
		pcm:        f.pcm,
		opts:       f.opts,
		chunkBytes: frames * encoder.BytesPerFrame,
	}, nil
}

type FakeCapture struct {
	pcm        []byte
	opts       FakeOptions
	chunkBytes int

	mu       sync.Mutex
	cb       DataCallback
	fault    FaultCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	stopOnce sync.Once
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetFaultCallback(cb FaultCallback) {
	f.mu.Lock()
	f.fault = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Start() error {
	if f.opts.StartErr != nil {
		return f.opts.StartErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	go f.feed()
	return nil
}

func (f *FakeCapture) feed() {
	defer close(f.feedDone)

	interval := time.Millisecond
	if f.opts.Realtime {
		interval = time.Duration(f.chunkBytes/encoder.BytesPerFrame) * time.Second / encoder.SampleRate
	}
	silence := make([]byte, f.chunkBytes)

	pos := 0
	for sent := 0; ; sent++ {
		select {
		case <-f.stopCh:
			return
		case <-time.After(interval):
		}

		f.mu.Lock()
		cb, fault := f.cb, f.fault
		f.mu.Unlock()

		if f.opts.FailAfter > 0 && sent >= f.opts.FailAfter {
			if fault != nil {
				fault(ErrFakeDisconnect)
			}
			return
		}
		if cb == nil {
			continue
		}

		chunk := silence
		if pos < len(f.pcm) {
			end := min(pos+f.chunkBytes, len(f.pcm))
			chunk = make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			pos = end
		}
		cb(chunk, uint32(len(chunk)/encoder.BytesPerFrame))
	}
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.feedDone
}

func (f *FakeCapture) Close() error {
	f.Stop()
	return f.opts.CloseErr
}
