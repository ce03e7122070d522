package encoder

import (
	"fmt"
	"io"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// Flac streams mono 16-bit PCM into a FLAC container on w. Writes may be
// any length; samples are regrouped into BlockSize frames internally.
type Flac struct {
	enc          *flac.Encoder
	sampleRate   int
	pending      []int16
	totalSamples uint64
	mu           sync.Mutex
}

func NewFlac(w io.Writer, sampleRate int) (*Flac, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	return &Flac{
		enc:        enc,
		sampleRate: sampleRate,
		pending:    make([]int16, 0, BlockSize),
	}, nil
}

// Write appends samples to the stream, encoding a frame for every full
// BlockSize of buffered audio.
func (e *Flac) Write(samples []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, samples...)
	for len(e.pending) >= BlockSize {
		if err := e.encodeBlock(e.pending[:BlockSize]); err != nil {
			return err
		}
		e.pending = e.pending[:copy(e.pending, e.pending[BlockSize:])]
	}
	return nil
}

// Close flushes any buffered partial block and finalizes the container.
func (e *Flac) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) > 0 {
		if err := e.encodeBlock(e.pending); err != nil {
			return err
		}
		e.pending = e.pending[:0]
	}
	return e.enc.Close()
}

func (e *Flac) TotalSamples() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalSamples
}

func (e *Flac) encodeBlock(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(e.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalSamples += uint64(len(block))
	return nil
}
