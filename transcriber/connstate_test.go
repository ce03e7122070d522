package transcriber

import (
	"testing"
	"time"
)

func TestConnTrackerHappyPath(t *testing.T) {
	tr := NewConnTracker(3, time.Second)
	if st := tr.Status(); st.Phase != PhaseIdle {
		t.Fatalf("fresh tracker phase = %v", st.Phase)
	}

	attempt, ok := tr.BeginConnect()
	if !ok || attempt != 1 {
		t.Fatalf("BeginConnect = (%d, %v), want (1, true)", attempt, ok)
	}
	if st := tr.Status(); st.Phase != PhaseConnecting || st.Attempt != 1 {
		t.Fatalf("after BeginConnect: %+v", st)
	}

	now := time.Now()
	tr.SessionStarted("sess-1", now)
	st := tr.Status()
	if st.Phase != PhaseConnected || st.SessionID != "sess-1" {
		t.Fatalf("after SessionStarted: %+v", st)
	}
	if st.Attempt != 0 {
		t.Errorf("attempt not reset on Connected: %d", st.Attempt)
	}
	if d := tr.ConnectionDuration(now.Add(5 * time.Second)); d != 5*time.Second {
		t.Errorf("ConnectionDuration = %v", d)
	}
}

func TestConnTrackerIllegalTransitionsIgnored(t *testing.T) {
	tr := NewConnTracker(3, time.Second)

	// From Idle, only Connecting is reachable.
	tr.SessionStarted("x", time.Now())
	if st := tr.Status(); st.Phase != PhaseIdle {
		t.Fatalf("SessionStarted from Idle moved to %v", st.Phase)
	}

	tr.BeginConnect()
	tr.SessionStarted("sess", time.Now())
	// From Connected, BeginConnect must not fire.
	if _, ok := tr.BeginConnect(); ok {
		t.Error("BeginConnect allowed while Connected")
	}
	if st := tr.Status(); st.Phase != PhaseConnected {
		t.Errorf("phase disturbed: %v", st.Phase)
	}
}

func TestConnTrackerAttemptsIncreaseUntilCeiling(t *testing.T) {
	tr := NewConnTracker(2, 10*time.Millisecond)
	now := time.Now()

	var attempts []int
	for {
		attempt, ok := tr.BeginConnect()
		if !ok {
			break
		}
		attempts = append(attempts, attempt)
		tr.Fail("refused", true, now)
		if _, ok := tr.RetryWait(now.Add(time.Hour)); !ok {
			break
		}
	}

	// Initial attempt plus two retries.
	want := []int{1, 2, 3}
	if len(attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", attempts, want)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("attempts = %v, want %v", attempts, want)
		}
	}
	if st := tr.Status(); !st.Terminal {
		t.Errorf("final state not terminal: %+v", st)
	}
	if _, ok := tr.BeginConnect(); ok {
		t.Error("BeginConnect allowed after terminal failure")
	}
}

func TestConnTrackerAttemptResetAllowsFullRetryBudget(t *testing.T) {
	tr := NewConnTracker(2, time.Millisecond)
	now := time.Now()

	tr.BeginConnect()
	tr.Fail("refused", true, now)
	tr.BeginConnect()
	tr.SessionStarted("s", now)

	// The counter reset on Connected; a later drop starts over at 1.
	tr.Fail("dropped", true, now)
	attempt, ok := tr.BeginConnect()
	if !ok || attempt != 1 {
		t.Errorf("BeginConnect after reset = (%d, %v), want (1, true)", attempt, ok)
	}
}

func TestConnTrackerAuthFailureIsTerminal(t *testing.T) {
	tr := NewConnTracker(5, time.Millisecond)
	tr.BeginConnect()
	st := tr.Fail("invalid key", false, time.Now())
	if !st.Terminal {
		t.Fatal("auth failure not terminal")
	}
	if _, ok := tr.RetryWait(time.Now().Add(time.Hour)); ok {
		t.Error("RetryWait allowed after terminal failure")
	}
	if _, ok := tr.BeginConnect(); ok {
		t.Error("BeginConnect allowed after terminal failure")
	}
}

func TestConnTrackerBackoffDoublesWithCeiling(t *testing.T) {
	tr := NewConnTracker(10, time.Second)
	now := time.Now()

	var delays []time.Duration
	for i := 0; i < 7; i++ {
		tr.BeginConnect()
		st := tr.Fail("refused", true, now)
		delays = append(delays, st.RetryAt.Sub(now))
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("attempt %d backoff = %v, want %v", i+1, delays[i], want[i])
		}
	}
}

func TestConnTrackerResetReturnsToIdle(t *testing.T) {
	tr := NewConnTracker(3, time.Second)
	tr.BeginConnect()
	tr.SessionStarted("s", time.Now())
	tr.Reset()
	st := tr.Status()
	if st.Phase != PhaseIdle || st.Attempt != 0 || st.SessionID != "" {
		t.Errorf("after Reset: %+v", st)
	}
}

func TestConnTrackerDurationZeroUnlessConnected(t *testing.T) {
	tr := NewConnTracker(3, time.Second)
	if d := tr.ConnectionDuration(time.Now()); d != 0 {
		t.Errorf("idle duration = %v", d)
	}
	tr.BeginConnect()
	if d := tr.ConnectionDuration(time.Now()); d != 0 {
		t.Errorf("connecting duration = %v", d)
	}
}
