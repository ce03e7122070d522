package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dikta/audio"
	"dikta/beep"
	"dikta/config"
	"dikta/hotkey"
	"dikta/log"
	"dikta/pipeline"
)

// lineSink prints pipeline events as single parseable stdout lines for
// scripted runs and the integration tests that drive them.
type lineSink struct{}

func (lineSink) RecordingStart()          { fmt.Println("REC_START") }
func (lineSink) RecordingStop()           { fmt.Println("REC_STOP") }
func (lineSink) RecordingTick(float64)    {}
func (lineSink) AudioLevel(float64)       {}
func (lineSink) Partial(text string)      { fmt.Println("PARTIAL " + text) }
func (lineSink) ConnLine(text string)     { fmt.Println("CONN " + text) }
func (lineSink) DeviceLine(text string)   { fmt.Println("DEVICE " + text) }
func (lineSink) Warning(text string)      { fmt.Println("WARN " + text) }
func (lineSink) ClearWarning()            {}
func (lineSink) UpdateAvailable(string)   {}
func (lineSink) Committed(text string, confidence float64) {
	fmt.Printf("COMMITTED %.2f %s\n", confidence, text)
}

func runTestMode(cfg config.Config, args []string) {
	beep.Disable()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: dikta -test <wav-file>")
		os.Exit(1)
	}
	wavPath := args[0]

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	// Scripted runs never touch a real device or the focused window.
	cfg.Device.Name = ""
	cfg.Delivery.Mode = "off"

	// The fake capture feeds the whole file in one burst on Start, so
	// the frame queue must hold all of it. Blocks are 1024 samples of
	// 16-bit PCM.
	if fi, err := os.Stat(wavPath); err == nil {
		if need := int(fi.Size()/2/1024) + 16; need > cfg.Audio.QueueFrames {
			cfg.Audio.QueueFrames = need
		}
	}

	fakeCtx, err := audio.NewFakeContext(wavPath, cfg.Device.SampleRate, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	a := &app{
		cfg:  cfg,
		ctx:  fakeCtx,
		sink: lineSink{},
	}
	a.ctrl = pipeline.NewController(pipeline.Options{
		Audio: fakeCtx,
		Sink:  controllerSink{a},
	})
	a.states = a.ctrl.Watch()

	hk := hotkey.NewFake()
	sessionDone := make(chan struct{}, 1)
	a.onSessionEnd = func() {
		select {
		case sessionDone <- struct{}{}:
		default:
		}
	}

	// Stdin driver in background -- sends hotkey events, handles WAIT/SLEEP/QUIT
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmd := strings.TrimSpace(scanner.Text())
			switch cmd {
			case "KEYDOWN":
				hk.SimKeydown()
			case "KEYUP":
				hk.SimKeyup()
			case "WAIT":
				<-sessionDone
			case "QUIT":
				a.ctrl.Close()
				if n := a.txCount.Load(); n > 0 {
					log.SessionEnd(int(n))
				}
				log.Close()
				os.Exit(0)
			default:
				if rest, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
					if ms, err := strconv.Atoi(rest); err == nil {
						time.Sleep(time.Duration(ms) * time.Millisecond)
					}
				}
			}
		}
		os.Exit(0)
	}()

	a.runPlain(hk)
}
