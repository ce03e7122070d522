package pipeline

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	vadMode    = 3
	vadFrameMs = 20
)

// VoiceScorer estimates voice activity for quantized chunks with the
// WebRTC detector. It stands in for the denoiser's activity score when
// the capture rate keeps the denoiser out of the chain.
type VoiceScorer struct {
	vad        *webrtcvad.VAD
	rate       int
	frameBytes int
	buf        []byte
	last       float32
}

func NewVoiceScorer(rate int) (*VoiceScorer, error) {
	switch rate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("vad: unsupported sample rate %d", rate)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &VoiceScorer{
		vad:        v,
		rate:       rate,
		frameBytes: rate * vadFrameMs / 1000 * 2,
	}, nil
}

// Score consumes one quantized chunk and returns the fraction of its
// 20ms frames classified as speech. Partial frames carry over to the
// next call; until a full frame completes the previous score holds.
func (s *VoiceScorer) Score(samples []int16) float32 {
	for _, v := range samples {
		s.buf = binary.LittleEndian.AppendUint16(s.buf, uint16(v))
	}
	total, speech := 0, 0
	for len(s.buf) >= s.frameBytes {
		frame := s.buf[:s.frameBytes]
		s.buf = s.buf[s.frameBytes:]
		active, err := s.vad.Process(s.rate, frame)
		if err != nil {
			continue
		}
		total++
		if active {
			speech++
		}
	}
	if total == 0 {
		return s.last
	}
	s.last = float32(speech) / float32(total)
	return s.last
}

func (s *VoiceScorer) Reset() {
	s.buf = s.buf[:0]
	s.last = 0
}
