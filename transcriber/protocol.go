package transcriber

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Wire message_type values, one per event variant.
const (
	msgInputAudioChunk     = "input_audio_chunk"
	msgSessionStarted      = "session_started"
	msgPartialTranscript   = "partial_transcript"
	msgCommittedTranscript = "committed_transcript"
	msgInputError          = "input_error"
	msgAuthError           = "auth_error"
	msgCommitThrottled     = "commit_throttled"
	msgSessionEnded        = "session_ended"
)

type audioChunkMessage struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit,omitempty"`
}

// serverEnvelope is the union of every field any inbound message carries.
// Which ones are meaningful depends on message_type.
type serverEnvelope struct {
	MessageType  string  `json:"message_type"`
	SessionID    string  `json:"session_id"`
	Text         string  `json:"text"`
	CreatedAtMS  int64   `json:"created_at_ms"`
	Confidence   float64 `json:"confidence"`
	ErrorMessage string  `json:"error_message"`
	Error        string  `json:"error"`
	Reason       string  `json:"reason"`
}

// EncodeAudioChunk frames 16-bit PCM as an input_audio_chunk message: the
// samples little-endian in base64, plus an optional commit marker asking
// the server to finalize everything received so far.
func EncodeAudioChunk(pcm []int16, commit bool) ([]byte, error) {
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	msg := audioChunkMessage{
		MessageType: msgInputAudioChunk,
		AudioBase64: base64.StdEncoding.EncodeToString(raw),
		Commit:      commit,
	}
	return json.Marshal(msg)
}

// DecodeAudioChunk is the inverse of EncodeAudioChunk. The mock service
// peer in the tests uses it; the real server does the same thing on its
// side of the wire.
func DecodeAudioChunk(data []byte) (pcm []int16, commit bool, err error) {
	var msg audioChunkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("malformed audio chunk: %w", err)
	}
	if msg.MessageType != msgInputAudioChunk {
		return nil, false, fmt.Errorf("unexpected message_type %q", msg.MessageType)
	}
	raw, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil {
		return nil, false, fmt.Errorf("bad audio payload: %w", err)
	}
	pcm = make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return pcm, msg.Commit, nil
}

// DecodeServerEvent parses one inbound wire frame into its Event variant.
// An unknown message_type or unparsable frame is an error; callers drop
// the frame and keep the connection open.
func DecodeServerEvent(data []byte) (Event, error) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed server message: %w", err)
	}
	switch env.MessageType {
	case msgSessionStarted:
		return SessionStarted{SessionID: env.SessionID}, nil
	case msgPartialTranscript:
		return PartialTranscript{
			Text:      env.Text,
			CreatedAt: time.UnixMilli(env.CreatedAtMS),
		}, nil
	case msgCommittedTranscript:
		return CommittedTranscript{
			Text:       env.Text,
			Confidence: env.Confidence,
		}, nil
	case msgInputError:
		return InputError{Message: env.ErrorMessage}, nil
	case msgAuthError:
		return AuthError{Message: env.Error}, nil
	case msgCommitThrottled:
		return CommitThrottled{Message: env.Error}, nil
	case msgSessionEnded:
		return SessionEnded{Reason: env.Reason}, nil
	}
	return nil, fmt.Errorf("unknown message_type %q", env.MessageType)
}
