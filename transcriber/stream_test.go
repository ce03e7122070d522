package transcriber

import (
	"sync"
	"testing"
	"time"
)

func testStreamConfig() StreamConfig {
	return StreamConfig{
		APIKey:      "test-key",
		Endpoint:    "wss://example.invalid/stt",
		ModelID:     "scribe_v2_realtime",
		Language:    "en",
		SampleRate:  16000,
		DialTimeout: 500 * time.Millisecond,
		MaxRetries:  3,
		RetryDelay:  5 * time.Millisecond,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func collectEvents(s *Stream) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for ev := range s.Events() {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("event channel never closed")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
	done   chan struct{}
}

func collectStates(s *Stream) *stateLog {
	l := &stateLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for st := range s.States() {
			l.mu.Lock()
			l.states = append(l.states, st)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *stateLog) wait(t *testing.T) []ConnState {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("state channel never closed")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnState(nil), l.states...)
}

func waitDone(t *testing.T, s *Stream, d time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(d):
		t.Fatal("stream did not finish in time")
	}
}

func pcmBlock(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i * 131) % 8192)
	}
	return out
}

func TestStreamSendsBatchesAndReceivesEvents(t *testing.T) {
	script := &FakeScript{Text: "hello world"}
	s := NewStream(testStreamConfig(), script.Dial)
	events := collectEvents(s)
	go func() {
		for range s.States() {
		}
	}()

	total := 0
	for i := 0; i < 3; i++ {
		block := pcmBlock(8000)
		total += len(block)
		s.Batches() <- Batch{PCM: block}
	}
	s.CloseSend()
	waitDone(t, s, 5*time.Second)

	if got := script.TotalSamples(); got != total {
		t.Errorf("peer received %d samples, want %d", got, total)
	}

	var started, partial, committed bool
	for _, ev := range events.wait(t) {
		switch ev.(type) {
		case SessionStarted:
			started = true
		case PartialTranscript:
			partial = true
		case CommittedTranscript:
			committed = true
		}
	}
	if !started || !partial || !committed {
		t.Errorf("missing events: started=%v partial=%v committed=%v", started, partial, committed)
	}

	stats := s.Stats()
	if stats.SentBatches != 3 {
		t.Errorf("SentBatches = %d, want 3", stats.SentBatches)
	}
	if stats.CommitsSent != 1 {
		t.Errorf("CommitsSent = %d, want 1 (shutdown flush)", stats.CommitsSent)
	}
	if stats.Committed == 0 {
		t.Error("no committed transcripts counted")
	}
}

func TestStreamReconnectsWithIncreasingAttempts(t *testing.T) {
	script := &FakeScript{Text: "ok", Failures: 2}
	s := NewStream(testStreamConfig(), script.Dial)
	states := collectStates(s)
	go func() {
		for range s.Events() {
		}
	}()

	// Batches sent while the dial is still failing must survive the
	// outage and arrive after the reconnect.
	block := pcmBlock(4000)
	s.Batches() <- Batch{PCM: block}
	s.Batches() <- Batch{PCM: block}

	// Give the stream a moment to get connected and drain.
	deadline := time.Now().Add(3 * time.Second)
	for s.Status().Phase != PhaseConnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.CloseSend()
	waitDone(t, s, 5*time.Second)

	var connecting []int
	connectedAt := -1
	for i, st := range states.wait(t) {
		switch st.Phase {
		case PhaseConnecting:
			connecting = append(connecting, st.Attempt)
		case PhaseConnected:
			if connectedAt == -1 {
				connectedAt = i
			}
			if st.Attempt != 0 {
				t.Errorf("Connected carries attempt %d, want 0", st.Attempt)
			}
		}
	}
	want := []int{1, 2, 3}
	if len(connecting) != len(want) {
		t.Fatalf("connecting attempts = %v, want %v", connecting, want)
	}
	for i := range want {
		if connecting[i] != want[i] {
			t.Fatalf("connecting attempts = %v, want %v", connecting, want)
		}
	}
	if connectedAt == -1 {
		t.Fatal("never reached Connected")
	}

	if got := script.TotalSamples(); got != 2*len(block) {
		t.Errorf("peer received %d samples, want %d", got, 2*len(block))
	}
	if s.Stats().Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", s.Stats().Reconnects)
	}
}

func TestStreamAuthFailureIsTerminal(t *testing.T) {
	script := &FakeScript{AuthFail: true}
	s := NewStream(testStreamConfig(), script.Dial)
	events := collectEvents(s)
	states := collectStates(s)

	waitDone(t, s, 2*time.Second)

	var sawAuth bool
	for _, ev := range events.wait(t) {
		if _, ok := ev.(AuthError); ok {
			sawAuth = true
		}
	}
	if !sawAuth {
		t.Error("no AuthError event published")
	}

	var connecting, terminal int
	for _, st := range states.wait(t) {
		if st.Phase == PhaseConnecting {
			connecting++
		}
		if st.Phase == PhaseError && st.Terminal {
			terminal++
		}
	}
	if connecting != 1 {
		t.Errorf("connecting transitions = %d, want 1 (no retry on auth)", connecting)
	}
	if terminal == 0 {
		t.Error("no terminal error state observed")
	}
	if len(script.Conns()) != 0 {
		t.Errorf("peer accepted %d connections", len(script.Conns()))
	}
}

func TestStreamWithoutAudioSendsNothing(t *testing.T) {
	script := &FakeScript{Text: "quiet"}
	s := NewStream(testStreamConfig(), script.Dial)
	go func() {
		for range s.Events() {
		}
	}()
	go func() {
		for range s.States() {
		}
	}()

	s.CloseSend()
	waitDone(t, s, 2*time.Second)

	if got := script.TotalChunks(); got != 0 {
		t.Errorf("peer received %d chunks from a silent session, want 0", got)
	}
	stats := s.Stats()
	if stats.SentBatches != 0 || stats.CommitsSent != 0 {
		t.Errorf("stats = %+v, want zero sends", stats)
	}
}

func TestStreamFlushCommitOnClose(t *testing.T) {
	script := &FakeScript{Text: "flushed"}
	s := NewStream(testStreamConfig(), script.Dial)
	events := collectEvents(s)
	go func() {
		for range s.States() {
		}
	}()

	s.Batches() <- Batch{PCM: pcmBlock(1600)}
	s.CloseSend()
	waitDone(t, s, 3*time.Second)

	conns := script.Conns()
	if len(conns) != 1 {
		t.Fatalf("connections = %d, want 1", len(conns))
	}
	if conns[0].Commits() != 1 {
		t.Errorf("peer saw %d commits, want 1", conns[0].Commits())
	}

	var committed bool
	for _, ev := range events.wait(t) {
		if _, ok := ev.(CommittedTranscript); ok {
			committed = true
		}
	}
	if !committed {
		t.Error("final committed transcript never arrived")
	}
}

func TestStreamExplicitCommitBatch(t *testing.T) {
	script := &FakeScript{Text: "chunked"}
	s := NewStream(testStreamConfig(), script.Dial)
	go func() {
		for range s.Events() {
		}
	}()
	go func() {
		for range s.States() {
		}
	}()

	s.Batches() <- Batch{PCM: pcmBlock(1600), Commit: true}
	s.CloseSend()
	waitDone(t, s, 3*time.Second)

	// The explicit commit already flushed; shutdown must not add another.
	if got := s.Stats().CommitsSent; got != 1 {
		t.Errorf("CommitsSent = %d, want 1", got)
	}
}

func TestStreamStopIsImmediateAndIdempotent(t *testing.T) {
	script := &FakeScript{Text: "stopme"}
	s := NewStream(testStreamConfig(), script.Dial)
	go func() {
		for range s.Events() {
		}
	}()
	go func() {
		for range s.States() {
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().Phase != PhaseConnected && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	start := time.Now()
	s.Stop()
	s.Stop()
	waitDone(t, s, time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("hard stop took %v", elapsed)
	}
}
