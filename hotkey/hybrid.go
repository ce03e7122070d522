package hotkey

import (
	"sync/atomic"
	"time"
)

// Hybrid layers tap-to-toggle and hold-to-talk on a single Hotkey. A press
// always starts recording immediately; whether it behaves as push-to-talk
// or toggle is decided by how long the key stays down. Releases past the
// longPress threshold stop on keyup, shorter taps latch until the next
// press-and-release.
type Hybrid struct {
	startCh  chan struct{}
	stopCh   chan struct{}
	cancelCh chan struct{}
	toggle   atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		startCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}, 1),
		cancelCh: make(chan struct{}, 1),
	}
	go h.run(hk, longPress)
	return h
}

// Start signals that recording should begin. The press mode is not known
// yet at that point; query IsToggle once the key is released.
func (h *Hybrid) Start() <-chan struct{} { return h.startCh }

// StopChan signals that recording should end, for both press modes.
func (h *Hybrid) StopChan() <-chan struct{} { return h.stopCh }

// IsToggle reports whether the current recording latched into toggle mode.
// Valid once the starting press has been resolved (released or held past
// the threshold).
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

// Cancel releases a latched toggle recording without a key press, so an
// auto-stop (silence timeout) does not leave the state machine waiting for
// a stop press that should be a start.
func (h *Hybrid) Cancel() {
	select {
	case h.cancelCh <- struct{}{}:
	default:
	}
}

type hybridState int

const (
	stIdle hybridState = iota
	stToggleRecording
)

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	state := stIdle
	for {
		switch state {
		case stIdle:
			<-hk.Keydown()
			select {
			case h.startCh <- struct{}{}:
			default:
			}
			timer := time.NewTimer(longPress)
			select {
			case <-timer.C:
				// Held past the threshold: push-to-talk, stop on release.
				h.toggle.Store(false)
				<-hk.Keyup()
				h.sendStop()
				state = stIdle
			case <-hk.Keyup():
				// Short tap: latch on until the next press.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				h.toggle.Store(true)
				state = stToggleRecording
			}
		case stToggleRecording:
			// Drop a stale cancel left over from a previous session.
			select {
			case <-h.cancelCh:
			default:
			}
			select {
			case <-hk.Keydown():
				<-hk.Keyup()
				h.sendStop()
			case <-h.cancelCh:
			}
			state = stIdle
		default:
			state = stIdle
		}
	}
}

func (h *Hybrid) sendStop() {
	select {
	case h.stopCh <- struct{}{}:
	default:
	}
}
