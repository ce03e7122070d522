//go:build integration

package test_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"nhooyr.io/websocket"

	"dikta/transcriber"
)

const testAPIKey = "test-key-0000"

var (
	testBinary string
	toneWAV    string
	silenceWAV string
)

func TestMain(m *testing.M) {
	testBinary = os.Getenv("DIKTA_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "DIKTA_TEST_BIN not set; run: make test-integration")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "dikta-it-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "tempdir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	toneWAV = filepath.Join(dir, "tone.wav")
	if err := generateToneWAV(toneWAV, 48000, 1.0, 440); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}
	silenceWAV = filepath.Join(dir, "silence.wav")
	if err := generateToneWAV(silenceWAV, 48000, 1.0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate silence.wav: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// generateToneWAV writes a 16-bit mono WAV of a half-amplitude sine.
// freq 0 produces pure silence.
func generateToneWAV(path string, sampleRate int, durationS, freq float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	if freq > 0 {
		step := 2 * math.Pi * freq / float64(sampleRate)
		for i := 0; i < numSamples; i++ {
			s := int16(0.5 * 32767 * math.Sin(step*float64(i)))
			binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
		}
	}
	return os.WriteFile(path, buf, 0644)
}

// scribeServer mocks the realtime transcription service for one test.
type scribeServer struct {
	srv   *httptest.Server
	conns atomic.Int64

	text       string
	confidence float64

	// rejectAuth answers 401 before the upgrade. dropAfterChunks > 0
	// kills the first connection after that many audio chunks.
	rejectAuth      bool
	dropAfterChunks int
}

func newScribeServer(t *testing.T, text string, confidence float64) *scribeServer {
	t.Helper()
	s := &scribeServer{text: text, confidence: confidence}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *scribeServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *scribeServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.rejectAuth || r.Header.Get("xi-api-key") != testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	id := s.conns.Add(1)
	s.serveConn(c, id)
}

func (s *scribeServer) serveConn(c *websocket.Conn, id int64) {
	ctx := context.Background()
	send := func(v map[string]any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return c.Write(ctx, websocket.MessageText, data)
	}

	if err := send(map[string]any{
		"message_type": "session_started",
		"session_id":   fmt.Sprintf("sess-%d", id),
	}); err != nil {
		c.Close(websocket.StatusInternalError, "")
		return
	}

	chunks := 0
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		pcm, commit, err := transcriber.DecodeAudioChunk(data)
		if err != nil {
			continue
		}
		if len(pcm) > 0 {
			chunks++
			if s.dropAfterChunks > 0 && id == 1 && chunks >= s.dropAfterChunks {
				c.Close(websocket.StatusInternalError, "injected failure")
				return
			}
			if chunks == 1 {
				send(map[string]any{
					"message_type":  "partial_transcript",
					"text":          strings.Fields(s.text)[0],
					"created_at_ms": 1,
				})
			}
		}
		if commit {
			send(map[string]any{
				"message_type": "committed_transcript",
				"text":         s.text,
				"confidence":   s.confidence,
			})
		}
	}
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

// runDikta drives one scripted subprocess session against srv and
// returns its stdout and log directory.
func runDikta(t *testing.T, srv *scribeServer, stdin string, args ...string) (stdout, logDir string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(),
		"DIKTA_ENDPOINT="+srv.endpoint(),
		"ELEVENLABS_API_KEY="+testAPIKey,
		"DIKTA_RETRY_DELAY_MS=50",
		"DIKTA_MAX_RETRIES=3",
	)

	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		t.Fatalf("dikta exited with error: %v\nstdout: %s\nstderr: %s", err, out.String(), errOut.String())
	}
	return out.String(), logDir
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestToneSession(t *testing.T) {
	srv := newScribeServer(t, "the quick brown fox", 0.93)
	out, logDir := runDikta(t, srv, cmds("KEYDOWN", "SLEEP 200", "KEYUP", "WAIT", "QUIT"), "-test", toneWAV)

	if !strings.Contains(out, "REC_START") {
		t.Errorf("missing REC_START in output:\n%s", out)
	}
	committed := strings.Index(out, "COMMITTED 0.93 the quick brown fox")
	if committed < 0 {
		t.Fatalf("missing committed transcript in output:\n%s", out)
	}
	stopped := strings.Index(out, "REC_STOP")
	if stopped < 0 {
		t.Fatalf("missing REC_STOP in output:\n%s", out)
	}
	if committed > stopped {
		t.Error("committed transcript arrived after REC_STOP; session teardown did not drain the stream")
	}
	if !strings.Contains(out, "PARTIAL the") {
		t.Errorf("missing partial transcript in output:\n%s", out)
	}

	text := readLog(t, logDir, "transcribe_log.txt")
	if !strings.Contains(text, "the quick brown fox") {
		t.Errorf("transcribe_log.txt missing transcript, got: %q", text)
	}
}

func TestSilenceSendsNothing(t *testing.T) {
	srv := newScribeServer(t, "should never appear", 0.9)
	out, _ := runDikta(t, srv, cmds("KEYDOWN", "SLEEP 300", "KEYUP", "WAIT", "QUIT"), "-test", silenceWAV)

	if strings.Contains(out, "COMMITTED") {
		t.Errorf("silence produced a committed transcript:\n%s", out)
	}
	if !strings.Contains(out, "REC_STOP") {
		t.Errorf("missing REC_STOP in output:\n%s", out)
	}
}

func TestTwoSessions(t *testing.T) {
	srv := newScribeServer(t, "hello again", 0.88)
	out, logDir := runDikta(t, srv,
		cmds("KEYDOWN", "SLEEP 200", "KEYUP", "WAIT", "KEYDOWN", "SLEEP 200", "KEYUP", "WAIT", "QUIT"),
		"-test", toneWAV)

	if got := strings.Count(out, "COMMITTED 0.88 hello again"); got != 2 {
		t.Errorf("committed count = %d, want 2\noutput:\n%s", got, out)
	}
	if got := srv.conns.Load(); got != 2 {
		t.Errorf("server connections = %d, want 2 (one per session)", got)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if strings.Count(diag, "session_start") < 2 {
		t.Error("expected 2 session_start entries in diagnostics")
	}
}

func TestReconnectMidSession(t *testing.T) {
	srv := newScribeServer(t, "survived the drop", 0.91)
	srv.dropAfterChunks = 1
	out, logDir := runDikta(t, srv, cmds("KEYDOWN", "SLEEP 600", "KEYUP", "WAIT", "QUIT"), "-test", toneWAV)

	if got := strings.Count(out, "COMMITTED 0.91 survived the drop"); got != 1 {
		t.Errorf("committed count = %d, want exactly 1\noutput:\n%s", got, out)
	}
	if got := srv.conns.Load(); got != 2 {
		t.Errorf("server connections = %d, want 2 (original plus reconnect)", got)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "state=error") {
		t.Error("expected a connection error entry in diagnostics")
	}
}

func TestAuthRejectedEndsSession(t *testing.T) {
	srv := newScribeServer(t, "unreachable", 0.9)
	srv.rejectAuth = true
	out, _ := runDikta(t, srv, cmds("KEYDOWN", "WAIT", "QUIT"), "-test", toneWAV)

	if strings.Contains(out, "COMMITTED") {
		t.Errorf("rejected auth still produced a transcript:\n%s", out)
	}
	if !strings.Contains(out, "ws: failed") {
		t.Errorf("missing terminal connection failure in output:\n%s", out)
	}
	if !strings.Contains(out, "REC_STOP") {
		t.Errorf("missing REC_STOP after terminal failure:\n%s", out)
	}
}
