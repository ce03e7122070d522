package main

import (
	"flag"
	"fmt"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"dikta/audio"
	"dikta/beep"
	"dikta/config"
	"dikta/delivery"
	"dikta/doctor"
	"dikta/hotkey"
	"dikta/log"
	"dikta/pipeline"
	"dikta/shutdown"
	"dikta/transcriber"
	"dikta/update"
)

// version is set via -ldflags at release build time.
var version = "dev"

// deviceSelectChan carries ctrl+g presses from the TUI into the main loop.
var deviceSelectChan = make(chan struct{}, 1)

var shutdownOnce sync.Once

// shutdownHook is set once the controller exists, before the signal
// goroutine starts.
var shutdownHook func()

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if shutdownHook != nil {
			shutdownHook()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

// app owns one audio context and one pipeline controller for the life
// of the process. Recording sessions run one at a time on the main
// loop; the controller sink pushes events in from pipeline goroutines.
type app struct {
	cfg     config.Config
	ctx     audio.Context
	ctrl    *pipeline.Controller
	sink    EventSink
	deliver *delivery.Deliverer
	hybrid  *hotkey.Hybrid
	states  <-chan pipeline.RecordingState

	level   atomic.Uint64 // last capture RMS, stored as Float64bits
	txCount atomic.Int64

	// onSessionEnd fires after each session's teardown. Test mode
	// installs it to sequence scripted keypresses.
	onSessionEnd func()

	mu        sync.Mutex
	device    string // current capture device, "" selects system default
	preferred string // sticky user choice, for hotplug reconnect
}

// controllerSink adapts pipeline callbacks onto the app. Calls arrive
// on the controller's forwarding goroutine and must stay cheap.
type controllerSink struct{ a *app }

func (s controllerSink) OnPartial(text string) { s.a.sink.Partial(text) }

func (s controllerSink) OnCommitted(text string, confidence float64) {
	s.a.txCount.Add(1)
	s.a.sink.Committed(text, confidence)
	if d := s.a.deliver; d != nil {
		go func() {
			if err := d.Deliver(text); err != nil {
				log.Warnf("delivery: %v", err)
			}
		}()
	}
}

func (s controllerSink) OnLevel(rms float64) {
	s.a.level.Store(math.Float64bits(rms))
	s.a.sink.AudioLevel(rms)
}

func (s controllerSink) OnConnState(st transcriber.ConnState) {
	s.a.sink.ConnLine(connLineText(st))
	if st.Phase == transcriber.PhaseError && st.Terminal {
		s.a.sink.Warning(st.Message)
	}
}

func (a *app) lastLevel() float64 {
	return math.Float64frombits(a.level.Load())
}

func (a *app) currentDevice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

func (a *app) setDevice(name string, sticky bool) {
	a.mu.Lock()
	a.device = name
	if sticky {
		a.preferred = name
	}
	a.mu.Unlock()
}

// sessionConfig snapshots the config with the currently selected
// device, so hotplug switches apply at the next session.
func (a *app) sessionConfig() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := a.cfg
	cfg.Device.Name = a.device
	return cfg
}

func (a *app) cancelHybrid() {
	if a.hybrid != nil {
		a.hybrid.Cancel()
	}
}

func (a *app) isToggle() bool {
	if a.hybrid != nil {
		return a.hybrid.IsToggle()
	}
	return false
}

// drainStates discards queued state notifications from an earlier
// session so they are not mistaken for the current one's.
func drainStates(ch <-chan pipeline.RecordingState) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// recordSession runs one recording session until stop fires, silence
// auto-close triggers, or the pipeline gives up on the stream.
func (a *app) recordSession(stop <-chan struct{}) {
	if a.onSessionEnd != nil {
		defer a.onSessionEnd()
	}
	drainStates(a.states)
	a.level.Store(0)

	cfg := a.sessionConfig()
	if err := a.ctrl.Start(&cfg); err != nil {
		log.Errorf("session start: %v", err)
		a.sink.Warning(fmt.Sprintf("recording failed: %v", err))
		go beep.PlayError()
		return
	}
	a.sink.RecordingStart()
	go beep.PlayStart()

	mon := newSilenceMonitor(a.isToggle)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case <-ticker.C:
			a.sink.RecordingTick(time.Since(started).Seconds())
			switch mon.Tick(a.lastLevel()) {
			case SilenceWarn:
				log.Info("silence_warning")
				a.sink.Warning("no voice detected")
				go beep.PlayError()
			case SilenceWarnClear:
				a.sink.ClearWarning()
			case SilenceRepeat:
				go beep.PlayError()
			case SilenceAutoClose:
				log.Info("silence_auto_close")
				a.cancelHybrid()
				a.finishSession()
				return
			}

		case <-stop:
			a.finishSession()
			return

		case st := <-a.states:
			if st == pipeline.StateIdle && a.ctrl.State() == pipeline.StateIdle {
				// The pipeline tore the session down on its own,
				// meaning the stream died past all retries.
				log.Warn("session ended by pipeline")
				a.cancelHybrid()
				a.sink.RecordingStop()
				go beep.PlayError()
				return
			}
		}
	}
}

func (a *app) finishSession() {
	if err := a.ctrl.Stop(); err != nil {
		log.Errorf("session stop: %v", err)
	}
	a.sink.RecordingStop()
	a.sink.ClearWarning()
	go beep.PlayEnd()
}

func (a *app) runPlain(hk hotkey.Hotkey) {
	for {
		select {
		case <-hk.Keydown():
			log.Info("hotkey_down")
			a.recordSession(hk.Keyup())
		case <-deviceSelectChan:
			a.handleDeviceSwitch()
		}
	}
}

func (a *app) runHybrid(hy *hotkey.Hybrid) {
	for {
		select {
		case <-hy.Start():
			log.Info("hotkey_start")
			a.recordSession(hy.StopChan())
		case <-deviceSelectChan:
			a.handleDeviceSwitch()
		}
	}
}

// handleDeviceSwitch suspends the TUI, runs the interactive picker and
// records the choice for subsequent sessions.
func (a *app) handleDeviceSwitch() {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.ReleaseTerminal()
	}
	dev, err := audio.SelectDevice(a.ctx, a.currentDevice())
	if p != nil {
		p.RestoreTerminal()
	}
	if err != nil {
		log.Warnf("device selection: %v", err)
		return
	}
	name := ""
	if dev != nil {
		name = dev.Name
	}
	a.setDevice(name, true)
	a.sink.DeviceLine(deviceLineText(name))
	if name == "" {
		log.Info("device_selected: system default")
	} else {
		log.Info("device_selected: " + name)
	}
}

// watchDevices polls for hotplug changes. Sessions open the capture
// device by name at start, so the watcher only has to keep the selected
// name pointing at something that exists.
func (a *app) watchDevices() {
	var last []string
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		devices, err := a.ctx.Devices()
		if err != nil {
			continue
		}
		names := make([]string, len(devices))
		for i := range devices {
			names[i] = devices[i].Name
		}
		if slices.Equal(last, names) {
			continue
		}
		last = names

		a.mu.Lock()
		current, preferred := a.device, a.preferred
		a.mu.Unlock()

		switch {
		case current != "" && !slices.Contains(names, current):
			// Selected device disappeared, fall back to default
			log.Info("device_disconnected: " + current)
			a.setDevice("", false)
			a.sink.DeviceLine(deviceLineText(""))
			a.sink.Warning("mic disconnected, using system default")
		case current == "" && preferred != "" && slices.Contains(names, preferred):
			// Preferred device reappeared, reconnect
			log.Info("device_reconnected: " + preferred)
			a.setDevice(preferred, false)
			a.sink.DeviceLine(deviceLineText(preferred))
			a.sink.ClearWarning()
		}
	}
}

func deviceLineText(name string) string {
	display := name
	suffix := ""
	if name == "" {
		display = "system default"
	} else if audio.IsBluetooth(name) {
		suffix = " (BT!)"
	}
	return "mic: " + display + suffix + " (ctrl+g)"
}

func connLineText(st transcriber.ConnState) string {
	switch st.Phase {
	case transcriber.PhaseConnecting:
		if st.Attempt > 1 {
			return fmt.Sprintf("ws: reconnecting (attempt %d)", st.Attempt)
		}
		return "ws: connecting..."
	case transcriber.PhaseConnected:
		if st.SessionID != "" {
			return "ws: connected [" + st.SessionID + "]"
		}
		return "ws: connected"
	case transcriber.PhaseError:
		if st.Terminal {
			return "ws: failed: " + st.Message
		}
		return "ws: reconnecting: " + st.Message
	}
	return "ws: idle"
}

func loadConfig(path string) config.Config {
	if path == "" {
		if def := config.DefaultPath(); def != "" {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runUpdate() {
	if version == "dev" {
		fmt.Println("Dev build — cannot check for updates.")
		os.Exit(0)
	}
	fmt.Printf("dikta %s — checking for updates...\n", version)
	rel, err := update.CheckLatest(version)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if rel == nil {
		fmt.Println("Already up to date.")
		os.Exit(0)
	}
	fmt.Printf("Update available: %s -> %s\n", version, rel.Version)
	fmt.Print("Continue? [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	if answer != "y" && answer != "Y" {
		fmt.Println("Aborted.")
		os.Exit(0)
	}
	fmt.Printf("Downloading %s...\n", rel.Version)
	if err := update.Apply(rel); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated to %s\n", rel.Version)
	os.Exit(0)
}

func run() {
	if len(os.Args) > 1 && os.Args[1] == "update" {
		runUpdate()
	}

	configFlag := flag.String("config", "", "Config file path (default: OS-specific location)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	langFlag := flag.String("lang", "", "Language code for transcription (e.g., en, es). Empty = config/auto")
	deliverFlag := flag.String("deliver", "", "Delivery mode: type, clipboard, or off (default: config)")
	dumpFlag := flag.Bool("dump", false, "Dump session audio to a FLAC file for debugging")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	hybridFlag := flag.Bool("hybrid", false, "Enable hybrid tap+hold recording mode")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Long-press threshold for PTT vs tap (e.g., 350ms)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, WAV input)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("dikta %s\n", version)
		os.Exit(0)
	}

	cfg := loadConfig(*configFlag)
	if *deviceFlag != "" {
		cfg.Device.Name = *deviceFlag
	}
	if *langFlag != "" {
		cfg.Transcribe.Language = *langFlag
	}
	if *deliverFlag != "" {
		cfg.Delivery.Mode = *deliverFlag
	}
	if *dumpFlag {
		cfg.Dump.Enabled = true
	}

	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}

	if *testFlag {
		runTestMode(cfg, flag.Args())
		return
	}

	// Resolve -setup before daemonizing; the picker needs the terminal.
	if *setupFlag && !*tuiFlag && os.Getenv("_DIKTA_BG") == "" {
		ctx, err := audio.NewContext()
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		if dev, _ := audio.SelectDevice(ctx, cfg.Device.Name); dev != nil {
			cfg.Device.Name = dev.Name
			*deviceFlag = dev.Name
		}
		ctx.Close()
	}

	// Daemonize in non-TUI mode: re-exec in background, return shell prompt
	if !*tuiFlag && os.Getenv("_DIKTA_BG") == "" {
		args := os.Args[1:]
		if *deviceFlag != "" {
			args = append(args, "-device", *deviceFlag)
		}
		exe, _ := os.Executable()
		cmd := exec.Command(exe, args...)
		cmd.Env = append(os.Environ(), "_DIKTA_BG=1")
		devnull, _ := os.Open(os.DevNull)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	mode, err := delivery.ParseMode(cfg.Delivery.Mode)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	if *setupFlag && cfg.Device.Name == "" {
		dev, err := audio.SelectDevice(ctx, "")
		if err != nil {
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		} else if dev != nil {
			cfg.Device.Name = dev.Name
		}
	}

	a := &app{
		cfg:       cfg,
		ctx:       ctx,
		sink:      nullSink{},
		deliver:   delivery.New(mode, cfg.Delivery.MaxChars),
		device:    cfg.Device.Name,
		preferred: cfg.Device.Name,
	}
	a.ctrl = pipeline.NewController(pipeline.Options{
		Audio: ctx,
		Sink:  controllerSink{a},
	})
	a.states = a.ctrl.Watch()

	shutdownHook = func() {
		a.ctrl.Close()
		if n := a.txCount.Load(); n > 0 {
			log.SessionEnd(int(n))
		}
	}

	if !*tuiFlag {
		tuiReadyOnce.Do(func() { close(tuiReady) })
	} else {
		a.sink = tuiSink{}
		tuiMu.Lock()
		tuiProgram = NewTUIProgram()
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				os.Exit(1)
			}
			gracefulShutdown()
		}()

		<-tuiReady
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown()
	}()

	go beep.Init()

	update.StartBackgroundCheck(version, log.Dir(), func(rel update.Release) {
		log.Info("update_available: " + rel.Version)
		a.sink.UpdateAvailable(rel.Version)
	})

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Printf("Error registering hotkey: %v\n", err)
		os.Exit(1)
	}
	defer hk.Unregister()

	a.sink.DeviceLine(deviceLineText(a.currentDevice()))
	go a.watchDevices()

	if *hybridFlag {
		a.hybrid = hotkey.NewHybrid(hk, *longPressFlag)
		a.runHybrid(a.hybrid)
	} else {
		a.runPlain(hk)
	}
}
