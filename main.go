package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"scribe/audio"
	"scribe/beep"
	"scribe/config"
	"scribe/doctor"
	"scribe/encoder"
	"scribe/hotkey"
	"scribe/log"
	"scribe/recorder"
	"scribe/shutdown"
	"scribe/transcriber"
)

var version = "dev"

const longPress = 350 * time.Millisecond

var shutdownOnce sync.Once

func gracefulShutdown(ctrl *Controller, code int) {
	shutdownOnce.Do(func() {
		if ctrl != nil {
			log.SessionEnd(ctrl.Stats())
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(code)
	})
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT! narrowband, expect worse accuracy)"
		}
	}
	return "mic: " + name + suffix
}

// loadModel loads the speech model once. SCRIBE_FAKE_TRANSCRIPT replaces
// it with a fixed transcript for headless runs.
func loadModel(cfg *config.Config) (transcriber.Model, error) {
	if text, ok := os.LookupEnv("SCRIBE_FAKE_TRANSCRIPT"); ok {
		return transcriber.NewFake(text, nil), nil
	}
	w, err := transcriber.LoadWhisper(transcriber.WhisperConfig{
		Binary:    cfg.WhisperBinary,
		ModelPath: cfg.ModelPath,
		Language:  cfg.Language,
		Threads:   cfg.Threads,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

type beepCues struct{}

func (beepCues) Start() { beep.PlayStart() }
func (beepCues) End()   { beep.PlayEnd() }
func (beepCues) Error() { beep.PlayError() }

func run() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI (false: hotkey only, events on stdout)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.String("test", "", "Headless mode: replay this WAV instead of the microphone, commands on stdin")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("scribe %s\n", version)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	binding, _ := hotkey.ParseBinding(cfg.Hotkey)

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.InitCrash(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not set up crash log: %v\n", err)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	model, modelErr := loadModel(cfg)
	if modelErr != nil {
		log.Errorf("model_load_failed: %v", modelErr)
		fmt.Fprintf(os.Stderr, "Warning: speech model unavailable, transcription disabled: %v\n", modelErr)
	}

	if !cfg.Beep || *testFlag != "" || *doctorFlag {
		beep.Disable()
	} else {
		go beep.Init()
	}

	var ctx audio.Context
	var ctxErr error
	if *testFlag != "" {
		ctx, ctxErr = audio.NewFakeContextFromWAV(*testFlag, audio.FakeOptions{Realtime: true})
	} else {
		ctx, ctxErr = audio.NewContext()
	}
	if ctxErr != nil {
		ctx = nil
		log.Errorf("audio context init error: %v", ctxErr)
	} else {
		defer ctx.Close()
	}

	if *doctorFlag {
		code := doctor.Run(doctor.Options{
			Audio:          ctx,
			AudioErr:       ctxErr,
			Device:         cfg.Device,
			Model:          model,
			ModelErr:       modelErr,
			AudioPath:      cfg.AudioPath,
			TranscriptPath: cfg.TranscriptPath,
			Hotkey:         binding,
			Interactive:    *testFlag == "",
		})
		log.Close()
		os.Exit(code)
	}

	if ctxErr != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", ctxErr)
		os.Exit(1)
	}

	var device *audio.DeviceInfo
	if *setupFlag {
		device, err = audio.SelectDevice(ctx, cfg.Device)
		if err != nil {
			if errors.Is(err, audio.ErrSelectionAborted) {
				os.Exit(0)
			}
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		}
	} else if cfg.Device != "" {
		device, _ = audio.FindDevice(ctx, cfg.Device)
		if device == nil {
			fmt.Printf("Warning: device %q not found, using system default\n", cfg.Device)
		}
	}

	captureConfig := audio.CaptureConfig{
		SampleRate:  encoder.SampleRate,
		Channels:    encoder.Channels,
		ChunkFrames: audio.DefaultChunkFrames,
	}
	mic := audio.NewMicrophone(ctx, device, captureConfig)
	rec := recorder.New(mic, recorder.Config{
		AudioPath:   cfg.AudioPath,
		ArchivePath: cfg.ArchivePath,
		ChunkFrames: captureConfig.ChunkFrames,
	})
	tr := transcriber.New(model, modelErr, cfg.TranscriptPath)
	log.SessionStart(mic.Name(), tr.ModelName(), cfg.Duration)

	if *testFlag != "" {
		sink := newLineSink(os.Stdout)
		ctrl := NewController(rec, tr, sink, cfg.Duration)
		runCtx, cancel := shutdown.Context(context.Background())
		go ctrl.Run(runCtx)
		runScript(runCtx, ctrl, rec, os.Stdin, sink)
		cancel()
		gracefulShutdown(ctrl, 0)
		return
	}

	var sink EventSink = tuiSink{}
	if !*tuiFlag {
		sink = newLineSink(os.Stdout)
	}
	ctrl := NewController(rec, tr, sink, cfg.Duration)
	ctrl.SetCues(beepCues{})

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(ctrl, 0)
	}()

	go ctrl.Run(context.Background())

	hotkeyLabel := ""
	hk := hotkey.New(binding)
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey register error: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: global hotkey disabled: %v\n", err)
	} else {
		defer hk.Unregister()
		hotkeyLabel = binding.String()
		trigger := hotkey.NewTrigger(hk, longPress)
		defer trigger.Close()
		go func() {
			for ev := range trigger.Events() {
				switch ev {
				case hotkey.Press:
					log.Info("hotkey_press")
					ctrl.Toggle()
				case hotkey.HoldRelease:
					log.Info("hotkey_hold_release")
					ctrl.StopIfRecording()
				}
			}
		}()
	}

	if !*tuiFlag {
		fmt.Printf("scribe %s: %s, model %s\n", version, deviceLineText(device), tr.ModelName())
		if hotkeyLabel != "" {
			fmt.Printf("Press %s to record for %ds, again to stop.\n", hotkeyLabel, cfg.Duration)
		}
		select {}
	}

	selectCh := make(chan struct{}, 1)
	tuiMu.Lock()
	tuiProgram = NewTUIProgram(ctrl, hotkeyLabel, tr.ModelName(), selectCh)
	tuiMu.Unlock()

	go func() {
		for range selectCh {
			device = handleDeviceSwitch(ctx, ctrl, captureConfig, device)
		}
	}()
	go tuiSend(DeviceLineMsg{Text: deviceLineText(device)})

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		gracefulShutdown(ctrl, 1)
	}
	gracefulShutdown(ctrl, 0)
}

func handleDeviceSwitch(ctx audio.Context, ctrl *Controller, cfg audio.CaptureConfig, current *audio.DeviceInfo) *audio.DeviceInfo {
	currentName := ""
	if current != nil {
		currentName = current.Name
	}

	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	p.ReleaseTerminal()
	dev, err := audio.SelectDevice(ctx, currentName)
	p.RestoreTerminal()

	if err != nil {
		if !errors.Is(err, audio.ErrSelectionAborted) {
			log.Warnf("device selection failed: %v", err)
			tuiSend(StatusMsg{Text: UserMessage(err), IsErr: true})
		}
		return current
	}
	if err := ctrl.SwitchDevice(audio.NewMicrophone(ctx, dev, cfg), dev.Name); err != nil {
		return current
	}
	tuiSend(DeviceLineMsg{Text: deviceLineText(dev)})
	return dev
}
