package pipeline

import "sync"

// RecordingState is the externally observable controller lifecycle.
type RecordingState int

const (
	StateIdle RecordingState = iota
	StateRecording
	StateStopping
)

func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// stateBroadcast fans state changes out to subscribers. Each
// subscriber channel holds one pending value; a lagging observer has
// its stale value replaced rather than blocking the publisher, so it
// only ever misses intermediate states, never the latest.
type stateBroadcast struct {
	mu     sync.Mutex
	subs   []chan RecordingState
	closed bool
}

func (b *stateBroadcast) subscribe() <-chan RecordingState {
	ch := make(chan RecordingState, 1)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

func (b *stateBroadcast) publish(s RecordingState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- s:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *stateBroadcast) close() {
	b.mu.Lock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.closed = true
	b.mu.Unlock()
}
