package transcriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dikta/log"
)

const (
	batchChanDepth = 128
	eventChanDepth = 64
	stateChanDepth = 8

	// How long to wait after the final commit for the server to flush
	// its last committed transcript before tearing the socket down.
	finalizeMax = 2 * time.Second
)

// Batch is one batching window of quantized audio ready for the wire.
// Commit asks the server to finalize everything received so far.
type Batch struct {
	PCM    []int16
	Commit bool
}

// StreamStats summarize one stream's lifetime for the session log.
type StreamStats struct {
	ConnectDur  time.Duration
	SessionDur  time.Duration
	SentBatches int
	SentBytes   uint64
	CommitsSent int
	RecvEvents  int
	Partials    int
	Committed   int
	Reconnects  int
}

// AudioSeconds converts the PCM byte count into seconds of audio.
func (st StreamStats) AudioSeconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(st.SentBytes) / float64(2*sampleRate)
}

// Stream is one logical transcription stream: a send half draining the
// batch channel onto the socket and a receive half decoding events, with
// a manager loop that redials on failure under the ConnTracker's retry
// policy. Batches buffered during an outage are sent after reconnect, in
// order.
//
// Shutdown protocol: the batch producer stops, then CloseSend flushes a
// final commit and lets the server drain, then Done closes. Stop is the
// hard variant that abandons the socket immediately.
type Stream struct {
	cfg     StreamConfig
	dial    DialFunc
	tracker *ConnTracker

	batches chan Batch
	events  chan Event
	states  chan ConnState
	status  atomic.Pointer[ConnState]

	acked      atomic.Int64
	ackCh      chan struct{}
	sendClosed chan struct{}
	sendOnce   sync.Once
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	mu    sync.Mutex
	stats StreamStats
}

// NewStream starts the manager loop immediately; the first dial happens
// in the background while the caller gets on with capturing audio.
func NewStream(cfg StreamConfig, dial DialFunc) *Stream {
	if dial == nil {
		dial = DialScribe
	}
	s := &Stream{
		cfg:        cfg,
		dial:       dial,
		tracker:    NewConnTracker(cfg.MaxRetries, cfg.RetryDelay),
		batches:    make(chan Batch, batchChanDepth),
		events:     make(chan Event, eventChanDepth),
		states:     make(chan ConnState, stateChanDepth),
		ackCh:      make(chan struct{}, 1),
		sendClosed: make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	idle := s.tracker.Status()
	s.status.Store(&idle)
	go s.run()
	return s
}

// Batches is the inbound audio channel. Exactly one producer may send on
// it; hand it to the pipeline and close it via CloseSend when the
// producer has exited.
func (s *Stream) Batches() chan<- Batch { return s.batches }

// Events delivers decoded server events in arrival order. Closed when the
// stream winds down.
func (s *Stream) Events() <-chan Event { return s.events }

// States delivers connection state changes. Under a slow reader old
// states are dropped in favor of new ones. Closed when the stream winds
// down.
func (s *Stream) States() <-chan ConnState { return s.states }

// Status returns the latest connection state without blocking.
func (s *Stream) Status() ConnState { return *s.status.Load() }

// Done closes once the manager loop has fully exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the lifetime counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CloseSend signals a graceful shutdown: no more batches will arrive. The
// send loop flushes a final commit, waits briefly for the server's last
// committed transcript, then the stream closes. Call only after the batch
// producer has stopped.
func (s *Stream) CloseSend() {
	s.sendOnce.Do(func() {
		close(s.sendClosed)
		close(s.batches)
	})
}

// Stop abandons the stream without the finalize handshake. Safe to call
// at any time, from any goroutine, more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

type connResult int

const (
	connRetry connResult = iota
	connDone
	connFatal
)

type sendResult struct {
	err      error
	graceful bool
	// flushed means a commit is in flight whose acknowledgment is worth
	// waiting for; preAcked is the ack count when that commit was sent.
	flushed  bool
	preAcked int64
}

func (s *Stream) run() {
	started := time.Now()
	defer func() {
		// Whatever happened, observers see a final Idle.
		s.tracker.Reset()
		s.publishState()
		s.mu.Lock()
		s.stats.SessionDur = time.Since(started)
		s.mu.Unlock()
		close(s.events)
		close(s.states)
		close(s.done)
	}()

	for {
		attempt, ok := s.tracker.BeginConnect()
		if !ok {
			return
		}
		s.publishState()
		log.ConnState("connecting", attempt, s.cfg.Endpoint)

		dialCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		connectStart := time.Now()
		ws, err := s.dial(dialCtx, s.cfg)
		cancel()
		if err != nil {
			retriable := !errors.Is(err, ErrAuth)
			st := s.tracker.Fail(err.Error(), retriable, time.Now())
			s.publishState()
			log.ConnState("error", st.Attempt, err.Error())
			if errors.Is(err, ErrAuth) {
				s.publishEvent(AuthError{Message: err.Error()})
				return
			}
			if !s.waitRetry() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.stats.ConnectDur = time.Since(connectStart)
		if attempt > 1 {
			s.stats.Reconnects++
		}
		s.mu.Unlock()

		switch s.runConn(ws) {
		case connDone:
			return
		case connFatal:
			return
		case connRetry:
			if !s.waitRetry() {
				return
			}
		}
	}
}

// runConn owns one socket from handshake to teardown. The send loop runs
// on its own goroutine; this goroutine receives, decodes and dispatches.
// A small supervisor closes the socket when it is time to go, which is
// the only way either loop is ever unblocked.
func (s *Stream) runConn(ws RawStream) connResult {
	connStop := make(chan struct{})
	var connOnce sync.Once
	stopConn := func() { connOnce.Do(func() { close(connStop) }) }
	defer stopConn()

	// The server must answer the websocket handshake with a
	// session_started within the dial budget.
	watchdog := time.AfterFunc(s.cfg.DialTimeout, func() { ws.Close() })
	defer watchdog.Stop()

	var closing atomic.Bool

	sendRes := make(chan sendResult, 1)
	go s.sendLoop(ws, connStop, sendRes)

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		var res sendResult
		select {
		case <-s.stop:
			closing.Store(true)
			ws.Close()
			return
		case <-connStop:
			return
		case res = <-sendRes:
		}
		if res.err != nil {
			// Write failure: drop the socket so the receive side
			// unblocks and the manager can redial.
			ws.Close()
			return
		}
		if res.graceful {
			if res.flushed && !s.awaitAck(res.preAcked, connStop) {
				return
			}
			closing.Store(true)
			ws.Close()
		}
	}()

	fatal := false
	for {
		data, err := ws.Recv()
		if err != nil {
			break
		}
		ev, derr := DecodeServerEvent(data)
		if derr != nil {
			log.Warnf("dropping message: %v", derr)
			continue
		}

		s.mu.Lock()
		s.stats.RecvEvents++
		s.mu.Unlock()

		switch e := ev.(type) {
		case SessionStarted:
			watchdog.Stop()
			s.tracker.SessionStarted(e.SessionID, time.Now())
			s.publishState()
			log.ConnState("connected", 0, e.SessionID)
		case PartialTranscript:
			s.mu.Lock()
			s.stats.Partials++
			s.mu.Unlock()
		case CommittedTranscript:
			s.mu.Lock()
			s.stats.Committed++
			s.mu.Unlock()
			s.signalAck()
		case AuthError:
			s.tracker.Fail(e.Message, false, time.Now())
			s.publishState()
			log.ConnState("error", 0, e.Message)
			fatal = true
		case SessionEnded:
			s.signalAck()
			log.ConnState("ended", 0, e.Reason)
		}

		s.publishEvent(ev)

		if fatal {
			closing.Store(true)
			ws.Close()
			break
		}
	}

	stopConn()
	<-supDone
	ws.Close()

	switch {
	case fatal:
		return connFatal
	case closing.Load():
		return connDone
	default:
		st := s.tracker.Fail("connection lost", true, time.Now())
		s.publishState()
		log.ConnState("error", st.Attempt, "connection lost")
		return connRetry
	}
}

func (s *Stream) sendLoop(ws RawStream, connStop <-chan struct{}, res chan<- sendResult) {
	pendingAudio := false
	awaitingAck := false
	var ackPre int64
	for {
		select {
		case b, ok := <-s.batches:
			if !ok {
				if pendingAudio {
					// Unacknowledged audio: ask the server to finalize
					// it before we hang up.
					pre := s.acked.Load()
					if msg, err := EncodeAudioChunk(nil, true); err == nil && ws.Send(msg) == nil {
						s.mu.Lock()
						s.stats.CommitsSent++
						s.mu.Unlock()
						awaitingAck, ackPre = true, pre
					}
				}
				res <- sendResult{graceful: true, flushed: awaitingAck, preAcked: ackPre}
				return
			}
			msg, err := EncodeAudioChunk(b.PCM, b.Commit)
			if err != nil {
				res <- sendResult{err: err}
				return
			}
			if b.Commit {
				ackPre = s.acked.Load()
			}
			if err := ws.Send(msg); err != nil {
				res <- sendResult{err: err}
				return
			}
			s.mu.Lock()
			s.stats.SentBatches++
			s.stats.SentBytes += uint64(len(b.PCM) * 2)
			s.mu.Unlock()
			if b.Commit {
				s.mu.Lock()
				s.stats.CommitsSent++
				s.mu.Unlock()
				pendingAudio = false
				awaitingAck = true
			} else if len(b.PCM) > 0 {
				pendingAudio = true
			}
		case <-connStop:
			res <- sendResult{}
			return
		}
	}
}

// signalAck notes that the server just finalized something. The
// supervisor consumes this while waiting out the shutdown flush.
func (s *Stream) signalAck() {
	s.acked.Add(1)
	select {
	case s.ackCh <- struct{}{}:
	default:
	}
}

// awaitAck blocks until an acknowledgment newer than pre arrives, the
// finalize budget runs out, or a stop intervenes. False means the
// connection is going down and the caller should not touch the socket.
func (s *Stream) awaitAck(pre int64, connStop <-chan struct{}) bool {
	deadline := time.After(finalizeMax)
	for s.acked.Load() <= pre {
		select {
		case <-s.ackCh:
		case <-deadline:
			return true
		case <-s.stop:
			return true
		case <-connStop:
			return false
		}
	}
	return true
}

// publishEvent delivers in order and never drops, short of a hard stop.
func (s *Stream) publishEvent(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// publishState coalesces: a slow observer sees the newest state, not a
// backlog.
func (s *Stream) publishState() {
	st := s.tracker.Status()
	s.status.Store(&st)
	for {
		select {
		case s.states <- st:
			return
		default:
			select {
			case <-s.states:
			default:
			}
		}
	}
}

func (s *Stream) waitRetry() bool {
	wait, ok := s.tracker.RetryWait(time.Now())
	if !ok {
		return false
	}
	select {
	case <-s.stop:
		return false
	case <-s.sendClosed:
		if n := len(s.batches); n > 0 {
			log.Warnf("discarding %d unsent batches, stream closing while disconnected", n)
		}
		return false
	case <-time.After(wait):
		return true
	}
}
