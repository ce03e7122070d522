// Package doctor walks the user through interactive checks of everything
// dikta needs from the host: the hotkey chord, microphone capture, the
// transcription service, and keystroke delivery.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	cb "github.com/atotto/clipboard"

	"dikta/audio"
	"dikta/config"
	"dikta/delivery"
	"dikta/dsp"
	"dikta/hotkey"
	"dikta/transcriber"
)

// Run executes the diagnostic checks in order and returns an exit code
// (0 = all pass). Later checks are skipped once one fails, since they
// usually depend on the earlier ones.
func Run(cfg config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("dikta doctor - interactive system diagnostics")
	fmt.Println("=============================================")

	allPass := true

	if !checkHotkey() {
		allPass = false
	}
	if allPass && !checkMicrophone(cfg) {
		allPass = false
	}
	if allPass && !checkService(cfg) {
		allPass = false
	}
	if allPass && !checkDelivery() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkHotkey() bool {
	fmt.Println()
	fmt.Println("[1/4] Hotkey detection")
	fmt.Println("Press Ctrl+Shift+Space...")

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		// Wait for keyup so the release does not leak into the next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicrophone(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[2/4] Microphone capture")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)
		idx := 0
		if choice != "" {
			fmt.Sscanf(choice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Println("  FAIL: invalid choice")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	rms, peak, err := measureLevel(ctx, device, cfg, 3*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}

	fmt.Printf("  Measured level: rms %.4f, peak %.4f\n", rms, peak)
	if peak < 0.005 {
		fmt.Println("  FAIL: no signal from microphone (is it muted?)")
		return false
	}
	if peak < 0.02 {
		fmt.Println("  Warning: very low level; check input volume")
	}
	fmt.Println("  PASS: microphone delivers signal")
	return true
}

// measureLevel captures for the given duration and reports the overall
// RMS and peak of the mono signal.
func measureLevel(ctx audio.Context, device *audio.DeviceInfo, cfg config.Config, d time.Duration) (float64, float32, error) {
	capCfg := audio.CaptureConfig{
		SampleRate: uint32(cfg.Device.SampleRate),
		Channels:   uint32(cfg.Device.Channels),
	}
	dev, err := ctx.NewCapture(device, capCfg)
	if err != nil {
		return 0, 0, err
	}
	defer dev.Close()

	var mu sync.Mutex
	var sumSquares float64
	var peak float32
	var count int64

	dev.SetCallback(func(samples []float32) {
		mono := dsp.DownmixMono(nil, samples, cfg.Device.Channels)
		mu.Lock()
		for _, s := range mono {
			sumSquares += float64(s) * float64(s)
		}
		if p := dsp.Peak(mono); p > peak {
			peak = p
		}
		count += int64(len(mono))
		mu.Unlock()
	})

	if err := dev.Start(); err != nil {
		return 0, 0, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	deadline := time.After(d)
poll:
	for {
		select {
		case <-ticker.C:
			fmt.Print(".")
		case <-deadline:
			break poll
		}
	}
	ticker.Stop()
	dev.Stop()
	fmt.Println(" done")

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		return 0, 0, errors.New("no audio callbacks fired")
	}
	rms := math.Sqrt(sumSquares / float64(count))
	return rms, peak, nil
}

func checkService(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[3/4] Transcription service")

	if cfg.Transcribe.APIKey == "" {
		fmt.Println("  SKIP: no API key configured (set ELEVENLABS_API_KEY)")
		return true
	}

	sc := transcriber.StreamConfig{
		APIKey:     cfg.Transcribe.APIKey,
		Endpoint:   cfg.Transcribe.Endpoint,
		ModelID:    cfg.Transcribe.ModelID,
		Language:   cfg.Transcribe.Language,
		SampleRate: cfg.Audio.TargetRate,
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, err := transcriber.DialScribe(dialCtx, sc)
	if err != nil {
		if errors.Is(err, transcriber.ErrAuth) {
			fmt.Printf("  FAIL: API key rejected: %v\n", err)
		} else {
			fmt.Printf("  FAIL: cannot reach service: %v\n", err)
		}
		return false
	}
	defer ws.Close()

	type recvResult struct {
		data []byte
		err  error
	}
	recv := make(chan recvResult, 1)
	go func() {
		data, err := ws.Recv()
		recv <- recvResult{data, err}
	}()

	select {
	case r := <-recv:
		if r.err != nil {
			fmt.Printf("  FAIL: handshake read: %v\n", r.err)
			return false
		}
		ev, err := transcriber.DecodeServerEvent(r.data)
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			return false
		}
		switch e := ev.(type) {
		case transcriber.SessionStarted:
			fmt.Printf("  PASS: session established (id %s)\n", e.SessionID)
			return true
		case transcriber.AuthError:
			fmt.Printf("  FAIL: API key rejected: %s\n", e.Message)
			return false
		default:
			fmt.Printf("  FAIL: unexpected first message %T\n", ev)
			return false
		}
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for session handshake")
		return false
	}
}

func checkDelivery() bool {
	fmt.Println()
	fmt.Println("[4/4] Text delivery")

	msg, err := delivery.Verify()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		if runtime.GOOS == "linux" {
			fmt.Println("  Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput")
		}
		return false
	}
	fmt.Printf("  PASS: %s\n", msg)

	fmt.Println()
	fmt.Println("Focus on a text editor window...")
	for i := 5; i > 0; i-- {
		fmt.Printf("  %d...\n", i)
		time.Sleep(1 * time.Second)
	}

	// Force the clipboard-paste route so restore gets exercised too.
	sentinel := "dikta-preserve-check"
	if err := cb.WriteAll(sentinel); err != nil {
		fmt.Printf("  FAIL: clipboard write: %v\n", err)
		return false
	}

	d := delivery.New(delivery.ModeType, 1)
	if err := d.Deliver("dikta-doctor-test"); err != nil {
		fmt.Printf("  FAIL: delivery: %v\n", err)
		return false
	}

	restored, err := cb.ReadAll()
	if err != nil {
		fmt.Printf("  FAIL: clipboard read after delivery: %v\n", err)
		return false
	}
	if restored != sentinel {
		fmt.Printf("  FAIL: clipboard not preserved (got %q, want %q)\n", restored, sentinel)
		return false
	}
	fmt.Println("  Clipboard contents were preserved across delivery.")

	resetTerminal()
	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Println()
	fmt.Print("Did the text \"dikta-doctor-test\" appear in the editor? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm != "y" && confirm != "yes" {
		fmt.Println("  FAIL: delivery not confirmed")
		return false
	}
	fmt.Println("  PASS: delivery verified by user")
	return true
}
