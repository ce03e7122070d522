package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"nhooyr.io/websocket"
)

// ErrAuth marks a credential rejection. The retry loop treats it as
// terminal instead of backing off.
var ErrAuth = errors.New("transcriber: authentication rejected")

// StreamConfig carries everything needed to open and maintain one
// transcription stream.
type StreamConfig struct {
	APIKey      string
	Endpoint    string
	ModelID     string
	Language    string
	SampleRate  int
	DialTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// RawStream is one open socket to the service, already past the
// handshake. Send and Recv may be used from different goroutines; Close
// unblocks both.
type RawStream interface {
	Send(data []byte) error
	Recv() ([]byte, error)
	Close() error
}

// DialFunc opens a RawStream. The tests substitute in-memory fakes; the
// default is DialScribe.
type DialFunc func(ctx context.Context, cfg StreamConfig) (RawStream, error)

// DialScribe opens a websocket to the ElevenLabs realtime scribe
// endpoint. Session parameters ride the query string, the credential
// rides the xi-api-key header. ctx bounds the whole handshake.
func DialScribe(ctx context.Context, cfg StreamConfig) (RawStream, error) {
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint: %w", err)
	}

	q := endpoint.Query()
	model := cfg.ModelID
	if model == "" {
		model = "scribe_v2_realtime"
	}
	q.Set("model_id", model)
	q.Set("encoding", fmt.Sprintf("pcm_%d", cfg.SampleRate))
	if cfg.Language != "" {
		q.Set("language_code", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", cfg.APIKey)

	streamCtx, cancel := context.WithCancel(context.Background())
	conn, resp, err := websocket.Dial(ctx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
		}
		return nil, err
	}
	return &wsStream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

type wsStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *wsStream) Send(data []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *wsStream) Recv() ([]byte, error) {
	_, data, err := s.conn.Read(s.ctx)
	return data, err
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
