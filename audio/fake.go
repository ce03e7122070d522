package audio

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"time"
)

const fakeBlockSize = 1024

// FakeContext replays a fixed sample buffer through the capture
// interface. It backs the stdin-driven test mode and the integration
// tests; once the buffer is exhausted it keeps delivering silence so the
// pipeline behaves as if the speaker went quiet.
type FakeContext struct {
	pcm      []float32
	rate     int
	realtime bool

	mu   sync.Mutex
	last *FakeCapture
}

// NewFakeContext loads 16-bit little-endian mono PCM from a WAV file and
// replays it at the given rate. realtime paces delivery at the wall
// clock; otherwise the whole file is fed in one burst on Start.
func NewFakeContext(wavPath string, rate int, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	pcm := make([]float32, len(data)/2)
	for i := range pcm {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		pcm[i] = float32(s) / 32768
	}
	return &FakeContext{pcm: pcm, rate: rate, realtime: realtime}, nil
}

// NewToneContext synthesizes a half-amplitude sine of the given frequency
// and duration.
func NewToneContext(freq float64, d time.Duration, rate int, realtime bool) *FakeContext {
	n := int(float64(rate) * d.Seconds())
	pcm := make([]float32, n)
	step := 2 * math.Pi * freq / float64(rate)
	for i := range pcm {
		pcm[i] = float32(0.5 * math.Sin(step*float64(i)))
	}
	return &FakeContext{pcm: pcm, rate: rate, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	c := &FakeCapture{
		pcm:       f.pcm,
		rate:      f.rate,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// LastCapture returns the most recently opened capture, for tests that
// assert on device state after a session ends.
func (f *FakeContext) LastCapture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	pcm       []float32
	rate      int
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the buffered samples have all been delivered
// and only silence remains.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeBlockSize, len(f.pcm))
	cb(f.pcm[pos:end])
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]float32, fakeBlockSize)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb != nil {
					cb(silence)
				}
			}
		}()
	} else {
		interval := time.Duration(fakeBlockSize) * time.Second / time.Duration(f.rate)
		go func() {
			defer close(f.feedDone)
			pos := 0
			silence := make([]float32, fakeBlockSize)
			audioFinished := false

			for {
				select {
				case <-f.stopCh:
					return
				default:
				}

				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb == nil {
					time.Sleep(time.Millisecond)
					continue
				}

				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos)
				} else {
					if !audioFinished {
						audioFinished = true
						close(f.audioDone)
					}
					cb(silence)
				}

				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}()
	}

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

// Stopped reports whether a started capture has been stopped and its
// feeder goroutine joined.
func (f *FakeCapture) Stopped() bool {
	if f.stopCh == nil {
		return false
	}
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

func (f *FakeCapture) Close() {}
