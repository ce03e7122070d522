// Package transcriber streams microphone audio to the ElevenLabs realtime
// speech-to-text service over a websocket and turns the service's replies
// into typed events. It owns the wire codec, the connection lifecycle
// state machine, and the reconnecting send/receive loops.
package transcriber

import "time"

// Event is one decoded message from the service. The set is closed:
// SessionStarted, PartialTranscript, CommittedTranscript, InputError,
// AuthError, CommitThrottled and SessionEnded.
type Event interface{ isEvent() }

// SessionStarted confirms the handshake; the server assigned a session id.
type SessionStarted struct {
	SessionID string
}

// PartialTranscript is a provisional hypothesis for audio that has not
// been committed yet. Each partial replaces the previous one.
type PartialTranscript struct {
	Text      string
	CreatedAt time.Time
}

// CommittedTranscript is final text the server will not revise.
type CommittedTranscript struct {
	Text       string
	Confidence float64
}

// InputError reports a problem with a chunk we sent. The session stays up.
type InputError struct {
	Message string
}

// AuthError reports a rejected credential. Not retriable.
type AuthError struct {
	Message string
}

// CommitThrottled tells us a commit was ignored because commits arrived
// too fast. Informational.
type CommitThrottled struct {
	Message string
}

// SessionEnded is the server closing the session on its own terms.
type SessionEnded struct {
	Reason string
}

func (SessionStarted) isEvent()      {}
func (PartialTranscript) isEvent()   {}
func (CommittedTranscript) isEvent() {}
func (InputError) isEvent()          {}
func (AuthError) isEvent()           {}
func (CommitThrottled) isEvent()     {}
func (SessionEnded) isEvent()        {}
