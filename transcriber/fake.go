package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// FakeScript plays the speech service in-process: the stdin-driven test
// mode and the unit tests dial it instead of the real endpoint. Every
// audio chunk is answered with a partial, every commit with a committed
// transcript carrying Text. Failures rejects that many dials first;
// AuthFail rejects every dial with ErrAuth.
type FakeScript struct {
	Text     string
	Failures int
	AuthFail bool

	mu    sync.Mutex
	conns []*FakeConn
}

// Dial satisfies DialFunc.
func (f *FakeScript) Dial(_ context.Context, _ StreamConfig) (RawStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthFail {
		return nil, fmt.Errorf("%w: fake credential rejected", ErrAuth)
	}
	if f.Failures > 0 {
		f.Failures--
		return nil, errors.New("fake: connection refused")
	}
	c := newFakeConn(f.Text, len(f.conns)+1)
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection accepted so far.
func (f *FakeScript) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// TotalSamples sums the PCM samples received across all connections.
func (f *FakeScript) TotalSamples() int {
	var n int
	for _, c := range f.Conns() {
		n += c.Samples()
	}
	return n
}

// TotalChunks sums the audio chunk messages received across all
// connections.
func (f *FakeScript) TotalChunks() int {
	var n int
	for _, c := range f.Conns() {
		n += c.Chunks()
	}
	return n
}

type FakeConn struct {
	text  string
	inbox chan []byte

	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	samples int
	chunks  int
	commits int
}

var errFakeClosed = errors.New("fake: connection closed")

func newFakeConn(text string, session int) *FakeConn {
	c := &FakeConn{
		text:   text,
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	c.reply(map[string]any{
		"message_type": "session_started",
		"session_id":   fmt.Sprintf("fake-session-%d", session),
	})
	return c
}

func (c *FakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	pcm, commit, err := DecodeAudioChunk(data)
	if err != nil {
		c.reply(map[string]any{
			"message_type":  "input_error",
			"error_message": err.Error(),
		})
		return nil
	}

	c.mu.Lock()
	c.chunks++
	c.samples += len(pcm)
	if commit {
		c.commits++
	}
	c.mu.Unlock()

	if len(pcm) > 0 {
		c.reply(map[string]any{
			"message_type":  "partial_transcript",
			"text":          c.text,
			"created_at_ms": 0,
		})
	}
	if commit {
		c.reply(map[string]any{
			"message_type": "committed_transcript",
			"text":         c.text,
			"confidence":   0.95,
		})
	}
	return nil
}

func (c *FakeConn) Recv() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *FakeConn) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}

func (c *FakeConn) Chunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

func (c *FakeConn) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func (c *FakeConn) reply(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.inbox <- data:
	case <-c.closed:
	}
}
