//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	cues     map[Kind][]byte
	cuesOnce sync.Once

	// read from the device callback
	playing atomic.Pointer[[]byte]
	playPos atomic.Uint32
	playMu  sync.Mutex
)

// Init renders the cues and opens the playback device.
func Init() {
	cuesOnce.Do(func() {
		cues = map[Kind][]byte{
			Start: toBytes(Samples(Start, 1, 0)),
			End:   toBytes(Samples(End, 1, 0)),
			Error: toBytes(Samples(Error, 1, 0)),
		}
		var err error
		malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			malgoCtx = nil
			return
		}
		if err := initDevice(); err != nil {
			malgoCtx.Uninit()
			malgoCtx.Free()
			malgoCtx = nil
		}
	})
}

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: onData})
	return err
}

func onData(out, _ []byte, frameCount uint32) {
	clear(out)
	samples := playing.Load()
	if samples == nil {
		return
	}
	pos := playPos.Load()
	remaining := uint32(len(*samples)) - pos
	if remaining == 0 {
		playing.Store(nil)
		return
	}
	n := min(frameCount*2, remaining)
	copy(out[:n], (*samples)[pos:pos+n])
	playPos.Store(pos + n)
}

func play(k Kind) {
	Init()
	if malgoCtx == nil {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()
	if device == nil {
		return
	}

	samples := cues[k]
	device.Stop()
	playPos.Store(0)
	playing.Store(&samples)
	if err := device.Start(); err != nil {
		// the device goes stale across sleep/wake
		device.Uninit()
		device = nil
		if err := initDevice(); err != nil || device.Start() != nil {
			playing.Store(nil)
		}
	}
}
