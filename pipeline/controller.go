package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dikta/audio"
	"dikta/config"
	"dikta/dsp"
	"dikta/log"
	"dikta/transcriber"
)

// drainTimeout bounds how long Stop waits for the stream to deliver
// outstanding audio and collect the final transcript before forcing
// the socket down.
const drainTimeout = 3 * time.Second

var (
	ErrAlreadyRecording = errors.New("pipeline: session already active")
	ErrClosed           = errors.New("pipeline: controller closed")
)

// Sink receives pipeline output on the controller's forwarding
// goroutine. Implementations must return quickly; anything slow
// belongs behind the implementor's own channel.
type Sink interface {
	OnPartial(text string)
	OnCommitted(text string, confidence float64)
	OnLevel(rms float64)
	OnConnState(st transcriber.ConnState)
}

type nopSink struct{}

func (nopSink) OnPartial(string)                  {}
func (nopSink) OnCommitted(string, float64)       {}
func (nopSink) OnLevel(float64)                   {}
func (nopSink) OnConnState(transcriber.ConnState) {}

type command interface{ isCommand() }

type startCmd struct {
	cfg   *config.Config
	reply chan error
}

type stopCmd struct {
	reply chan error
}

func (startCmd) isCommand() {}
func (stopCmd) isCommand()  {}

// Options configures a Controller. Audio is required. A nil Dial
// selects the production dialer; tests inject their own.
type Options struct {
	Audio audio.Context
	Sink  Sink
	Dial  transcriber.DialFunc
}

// Controller runs recording sessions one at a time. A single command
// loop owns the capture device, frame queue, pump and stream for the
// life of each session, so every resource has exactly one goroutine
// touching it and commands never race with teardown.
type Controller struct {
	audio audio.Context
	sink  Sink
	dial  transcriber.DialFunc

	cmds   chan command
	quit   chan struct{}
	closed chan struct{}
	once   sync.Once

	state atomic.Int32
	watch stateBroadcast
}

func NewController(opts Options) *Controller {
	c := &Controller{
		audio:  opts.Audio,
		sink:   opts.Sink,
		dial:   opts.Dial,
		cmds:   make(chan command),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	go c.loop()
	return c
}

// Start opens the capture device and begins streaming one recording
// session. The reply is synchronous: a device that cannot be opened
// fails here, while connection trouble surfaces later through the
// state broadcast.
func (c *Controller) Start(cfg *config.Config) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- startCmd{cfg: cfg, reply: reply}:
		return <-reply
	case <-c.quit:
		return ErrClosed
	}
}

// Stop ends the active session: capture halts first, the pump drains,
// then the stream closes its send side and waits for the final
// transcript. Stopping while idle succeeds without side effects.
func (c *Controller) Stop() error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- stopCmd{reply: reply}:
		return <-reply
	case <-c.quit:
		return ErrClosed
	}
}

// State returns the current recording state.
func (c *Controller) State() RecordingState {
	return RecordingState(c.state.Load())
}

// Watch returns a channel of state changes. The channel closes when
// the controller shuts down.
func (c *Controller) Watch() <-chan RecordingState {
	return c.watch.subscribe()
}

// Close stops any active session and shuts the controller down.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.closed
}

func (c *Controller) publish(s RecordingState) {
	c.state.Store(int32(s))
	c.watch.publish(s)
}

func (c *Controller) loop() {
	defer close(c.closed)
	var sess *session
	for {
		var streamDone <-chan struct{}
		if sess != nil {
			streamDone = sess.stream.Done()
		}
		select {
		case cmd := <-c.cmds:
			switch m := cmd.(type) {
			case startCmd:
				if sess != nil {
					m.reply <- ErrAlreadyRecording
					continue
				}
				s, err := c.startSession(m.cfg)
				if err != nil {
					m.reply <- err
					continue
				}
				sess = s
				c.publish(StateRecording)
				m.reply <- nil
			case stopCmd:
				if sess == nil {
					m.reply <- nil
					continue
				}
				c.publish(StateStopping)
				c.stopSession(sess)
				sess = nil
				c.publish(StateIdle)
				m.reply <- nil
			}
		case <-streamDone:
			// Retries exhausted or a fatal protocol error; the
			// observer learned why from the connection states.
			log.Warn("stream ended while recording")
			c.publish(StateStopping)
			c.stopSession(sess)
			sess = nil
			c.publish(StateIdle)
		case <-c.quit:
			if sess != nil {
				c.publish(StateStopping)
				c.stopSession(sess)
				c.publish(StateIdle)
			}
			c.watch.close()
			return
		}
	}
}

// session bundles the resources owned for one recording.
type session struct {
	cfg      *config.Config
	capture  audio.CaptureDevice
	stream   *transcriber.Stream
	dump     *audioDump
	pumpStop chan struct{}
	pumpDone chan struct{}
	fwdDone  chan struct{}
}

func (c *Controller) startSession(cfg *config.Config) (*session, error) {
	var dev *audio.DeviceInfo
	if cfg.Device.Name != "" {
		if devices, err := c.audio.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == cfg.Device.Name {
					dev = &devices[i]
					break
				}
			}
		}
		if dev == nil {
			log.Warnf("device %q not found, using system default", cfg.Device.Name)
		}
	}

	capture, err := c.audio.NewCapture(dev, audio.CaptureConfig{
		SampleRate: uint32(cfg.Device.SampleRate),
		Channels:   uint32(cfg.Device.Channels),
	})
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}

	quality, err := dsp.ParseQuality(cfg.Audio.ResampleQuality)
	if err != nil {
		capture.Close()
		return nil, err
	}

	queue := audio.NewFrameQueue(cfg.Audio.QueueFrames, cfg.Audio.FrameCapacity)
	gate := NewGate(GateConfig{
		SampleRate:      cfg.Audio.TargetRate,
		BatchWindow:     time.Duration(cfg.Gate.BatchWindowMS) * time.Millisecond,
		VADThreshold:    float32(cfg.Gate.VADThreshold),
		EnergyThreshold: cfg.Gate.EnergyThreshold,
		SilenceChunks:   cfg.Gate.SilenceChunks,
		CommitAfter:     time.Duration(cfg.Gate.CommitAfterMS) * time.Millisecond,
	})
	stream := transcriber.NewStream(transcriber.StreamConfig{
		APIKey:      cfg.Transcribe.APIKey,
		Endpoint:    cfg.Transcribe.Endpoint,
		ModelID:     cfg.Transcribe.ModelID,
		Language:    cfg.Transcribe.Language,
		SampleRate:  cfg.Audio.TargetRate,
		DialTimeout: time.Duration(cfg.Transcribe.DialTimeoutMS) * time.Millisecond,
		MaxRetries:  cfg.Transcribe.MaxRetries,
		RetryDelay:  time.Duration(cfg.Transcribe.RetryDelayMS) * time.Millisecond,
	}, c.dial)

	pmp, err := newPump(pumpConfig{
		CaptureRate: cfg.Device.SampleRate,
		TargetRate:  cfg.Audio.TargetRate,
		Denoise:     cfg.Audio.Denoise,
		Quality:     quality,
	}, queue, gate, stream.Batches())
	if err != nil {
		stream.Stop()
		capture.Close()
		return nil, err
	}
	pmp.level = c.sink.OnLevel
	if cfg.Dump.Enabled {
		if d, err := newAudioDump(cfg.Dump.Path, cfg.Audio.TargetRate); err != nil {
			log.Warnf("audio dump disabled: %v", err)
		} else {
			pmp.dump = d
		}
	}

	channels := cfg.Device.Channels
	capture.SetCallback(func(samples []float32) {
		queue.Push(samples, channels)
	})
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		stream.Stop()
		if pmp.dump != nil {
			pmp.dump.close()
		}
		capture.Close()
		return nil, fmt.Errorf("start capture: %w", err)
	}

	sess := &session{
		cfg:      cfg,
		capture:  capture,
		stream:   stream,
		dump:     pmp.dump,
		pumpStop: make(chan struct{}),
		pumpDone: make(chan struct{}),
		fwdDone:  make(chan struct{}),
	}
	go func() {
		pmp.run(sess.pumpStop)
		close(sess.pumpDone)
	}()
	go c.forward(sess)

	log.SessionStart(capture.DeviceName(), cfg.Transcribe.Language)
	return sess, nil
}

// stopSession tears a session down in dependency order: the hardware
// callback quiesces first, then the pump flushes its tail into the
// stream, and only then does the send side close. The network drain is
// bounded; a stream that cannot finish in time is forced down.
func (c *Controller) stopSession(sess *session) {
	sess.capture.Stop()
	sess.capture.ClearCallback()

	close(sess.pumpStop)
	<-sess.pumpDone

	sess.stream.CloseSend()
	select {
	case <-sess.stream.Done():
	case <-time.After(drainTimeout):
		log.Warn("stream drain timed out, forcing close")
		sess.stream.Stop()
		<-sess.stream.Done()
	}
	<-sess.fwdDone

	if sess.dump != nil {
		if err := sess.dump.close(); err != nil {
			log.Warnf("audio dump close: %v", err)
		}
	}
	sess.capture.Close()

	st := sess.stream.Stats()
	log.StreamMetrics(log.StreamMetricsData{
		ConnectMs:   st.ConnectDur.Seconds() * 1000,
		TotalMs:     st.SessionDur.Seconds() * 1000,
		AudioS:      st.AudioSeconds(sess.cfg.Audio.TargetRate),
		SentBatches: st.SentBatches,
		SentKB:      float64(st.SentBytes) / 1024,
		RecvEvents:  st.RecvEvents,
		Partials:    st.Partials,
		Committed:   st.Committed,
		CommitsSent: st.CommitsSent,
		Reconnects:  st.Reconnects,
	})
}

// forward republishes stream events to the sink until the stream
// closes its channels.
func (c *Controller) forward(sess *session) {
	defer close(sess.fwdDone)
	events, states := sess.stream.Events(), sess.stream.States()
	for events != nil || states != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.dispatch(ev)
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.sink.OnConnState(st)
		}
	}
}

func (c *Controller) dispatch(ev transcriber.Event) {
	switch m := ev.(type) {
	case transcriber.PartialTranscript:
		c.sink.OnPartial(m.Text)
	case transcriber.CommittedTranscript:
		log.TranscriptionText(m.Text)
		log.Confidence(m.Confidence)
		c.sink.OnCommitted(m.Text, m.Confidence)
	case transcriber.InputError:
		log.Warnf("input rejected: %s", m.Message)
	case transcriber.CommitThrottled:
		log.Warnf("commit throttled: %s", m.Message)
	case transcriber.SessionEnded:
		log.Info("session ended: " + m.Reason)
	}
}
