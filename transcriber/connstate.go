package transcriber

import "time"

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// ConnState is a snapshot of the connection lifecycle. Which fields carry
// meaning depends on Phase: Connecting has Attempt, Connected has
// SessionID and Since, Error has Message, RetryAt, Attempt and Terminal.
type ConnState struct {
	Phase     Phase
	Attempt   int
	SessionID string
	Since     time.Time
	Message   string
	RetryAt   time.Time
	Terminal  bool
}

// ConnTracker drives the connection state machine. Its transition methods
// are the only mutation path; an out-of-order transition is ignored
// rather than corrupting the state. The network manager goroutine is the
// sole owner; Status hands copies to everyone else.
type ConnTracker struct {
	state      ConnState
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

const defaultMaxBackoff = 30 * time.Second

func NewConnTracker(maxRetries int, baseDelay time.Duration) *ConnTracker {
	return &ConnTracker{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   defaultMaxBackoff,
	}
}

func (t *ConnTracker) Status() ConnState {
	return t.state
}

// BeginConnect moves Idle or Error to Connecting with the next attempt
// number. It reports false once the attempt ceiling is exhausted or the
// error was terminal; the caller must not dial again.
func (t *ConnTracker) BeginConnect() (int, bool) {
	switch t.state.Phase {
	case PhaseIdle, PhaseError:
	default:
		return t.state.Attempt, false
	}
	if t.state.Terminal {
		return t.state.Attempt, false
	}
	next := t.state.Attempt + 1
	if next > t.maxRetries+1 {
		// First attempt plus maxRetries retries.
		return t.state.Attempt, false
	}
	t.state = ConnState{Phase: PhaseConnecting, Attempt: next}
	return next, true
}

// SessionStarted moves Connecting to Connected and resets the attempt
// counter. Ignored in any other phase.
func (t *ConnTracker) SessionStarted(sessionID string, now time.Time) {
	if t.state.Phase != PhaseConnecting {
		return
	}
	t.state = ConnState{
		Phase:     PhaseConnected,
		SessionID: sessionID,
		Since:     now,
	}
}

// Fail records a connection error from any phase. retriable=false marks
// the error terminal, which blocks all further BeginConnect calls; this
// is how credential rejection short-circuits the retry loop.
func (t *ConnTracker) Fail(message string, retriable bool, now time.Time) ConnState {
	attempt := t.state.Attempt
	t.state = ConnState{
		Phase:    PhaseError,
		Message:  message,
		Attempt:  attempt,
		RetryAt:  now.Add(t.backoff(attempt)),
		Terminal: !retriable || attempt > t.maxRetries,
	}
	return t.state
}

// Reset returns to Idle. Used on controller-initiated disconnect.
func (t *ConnTracker) Reset() {
	t.state = ConnState{}
}

// RetryWait reports how long to wait before the next attempt, and whether
// another attempt is allowed at all.
func (t *ConnTracker) RetryWait(now time.Time) (time.Duration, bool) {
	if t.state.Phase != PhaseError || t.state.Terminal {
		return 0, false
	}
	wait := t.state.RetryAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// ConnectionDuration is how long the current connection has been up; zero
// unless Connected.
func (t *ConnTracker) ConnectionDuration(now time.Time) time.Duration {
	if t.state.Phase != PhaseConnected {
		return 0
	}
	return now.Sub(t.state.Since)
}

// backoff doubles per attempt from the base delay up to a ceiling.
func (t *ConnTracker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := t.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= t.maxDelay {
			return t.maxDelay
		}
	}
	if d > t.maxDelay {
		d = t.maxDelay
	}
	return d
}
