package pipeline

import (
	"time"

	"dikta/audio"
	"dikta/dsp"
	"dikta/log"
	"dikta/transcriber"
)

const (
	idleSleep  = time.Millisecond
	statsEvery = 5 * time.Second

	// drainSendTimeout bounds each send while the session tears down.
	// It only trips when the connection is already wedged, in which
	// case the batch is lost along with the session.
	drainSendTimeout = 200 * time.Millisecond
)

// LevelFunc receives the instantaneous RMS level of captured audio.
// Implementations must not block.
type LevelFunc func(rms float64)

type pumpConfig struct {
	CaptureRate int
	TargetRate  int
	Denoise     bool
	Quality     dsp.Quality
}

// pump drains the frame queue and runs each frame through the signal
// chain: downmix, denoise, resample, quantize, gate. One pump
// goroutine exists per recording session; it owns the denoiser,
// resampler and gate outright, so none of them need locking.
//
// The denoiser doubles as the voice-activity source. When the capture
// rate rules it out, the WebRTC detector scores the quantized output
// instead; with neither available the gate falls back to energy alone.
type pump struct {
	queue *audio.FrameQueue
	gate  *Gate
	out   chan<- transcriber.Batch
	level LevelFunc
	dump  *audioDump

	den    *dsp.Denoiser
	scorer *VoiceScorer
	res    *dsp.Resampler

	clean []float32
	pcm   []int16
	mono  []float32
}

func newPump(cfg pumpConfig, queue *audio.FrameQueue, gate *Gate, out chan<- transcriber.Batch) (*pump, error) {
	res, err := dsp.NewResampler(cfg.CaptureRate, cfg.TargetRate, cfg.Quality)
	if err != nil {
		return nil, err
	}
	p := &pump{queue: queue, gate: gate, out: out, res: res}

	if cfg.Denoise && cfg.CaptureRate == dsp.DenoiseSampleRate {
		p.den = dsp.NewDenoiser()
	} else {
		if cfg.Denoise {
			log.Info("denoise disabled: requires 48kHz capture")
		}
		scorer, err := NewVoiceScorer(cfg.TargetRate)
		if err != nil {
			log.Warnf("voice detector unavailable, gating on energy only: %v", err)
		} else {
			p.scorer = scorer
		}
	}
	return p, nil
}

func (p *pump) run(stop <-chan struct{}) {
	lastStats := time.Now()
	for {
		select {
		case <-stop:
			p.drain()
			return
		default:
		}

		if time.Since(lastStats) >= statsEvery {
			p.logStats()
			lastStats = time.Now()
		}

		f, ok := p.queue.Pop()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}
		batch := p.process(f)
		p.queue.Recycle(f)
		if batch == nil {
			continue
		}
		select {
		case p.out <- *batch:
		case <-stop:
			if !p.sendDeadline(*batch) {
				p.logStats()
				return
			}
			p.drain()
			return
		}
	}
}

// drain empties what the queue still holds after capture has stopped,
// then releases the gate's trailing partial window. Capture is already
// quiet by the time stop closes, so the queue only shrinks here.
func (p *pump) drain() {
	for {
		f, ok := p.queue.Pop()
		if !ok {
			break
		}
		batch := p.process(f)
		p.queue.Recycle(f)
		if batch != nil && !p.sendDeadline(*batch) {
			p.logStats()
			return
		}
	}
	p.finish()
}

// process runs one frame through the chain and returns the batch the
// gate released, if any.
func (p *pump) process(f *audio.Frame) *transcriber.Batch {
	p.mono = dsp.DownmixMono(p.mono, f.Samples, f.Channels)
	if p.level != nil {
		p.level(dsp.RMS(p.mono))
	}

	chunk := p.mono
	var vad float32
	if p.den != nil {
		chunk, vad = p.denoise(p.mono)
	}

	p.pcm = dsp.QuantizeInt16(p.pcm, p.res.Process(chunk))
	if len(p.pcm) == 0 {
		return nil
	}
	if p.scorer != nil {
		vad = p.scorer.Score(p.pcm)
	}
	if p.dump != nil {
		if err := p.dump.write(p.pcm); err != nil {
			log.Warnf("audio dump: %v", err)
			p.dump = nil
		}
	}
	return p.gate.Offer(p.pcm, vad)
}

// denoise cleans each full frame and passes the unaligned tail through
// untouched; device blocks rarely land on the denoiser's frame size.
// Returns the cleaned block and the mean activity across its frames.
func (p *pump) denoise(mono []float32) ([]float32, float32) {
	n := len(mono)
	if cap(p.clean) < n {
		p.clean = make([]float32, n)
	}
	clean := p.clean[:n]

	var vadSum float32
	frames := 0
	off := 0
	for ; off+dsp.DenoiseFrameSize <= n; off += dsp.DenoiseFrameSize {
		vad, err := p.den.ProcessFrame(clean[off:off+dsp.DenoiseFrameSize], mono[off:off+dsp.DenoiseFrameSize])
		if err != nil {
			copy(clean[off:off+dsp.DenoiseFrameSize], mono[off:off+dsp.DenoiseFrameSize])
			continue
		}
		vadSum += vad
		frames++
	}
	copy(clean[off:], mono[off:])

	if frames == 0 {
		return clean, 0
	}
	return clean, vadSum / float32(frames)
}

// sendDeadline delivers one batch during teardown. The stream's send
// side is still open (it closes only after the pump exits), so this
// fails only when the connection is wedged and the buffer is full.
func (p *pump) sendDeadline(b transcriber.Batch) bool {
	t := time.NewTimer(drainSendTimeout)
	defer t.Stop()
	select {
	case p.out <- b:
		return true
	case <-t.C:
		return false
	}
}

// finish releases the gate's trailing partial window into the stream
// before the session closes the send side.
func (p *pump) finish() {
	if b := p.gate.Flush(); b != nil {
		p.sendDeadline(*b)
	}
	p.logStats()
}

func (p *pump) logStats() {
	frames, dropped, fallback := p.queue.Stats()
	log.CaptureStats(frames, dropped, fallback)
}
