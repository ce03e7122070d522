package pipeline

import (
	"os"

	"dikta/encoder"
)

// audioDump records the resampled, quantized stream to a FLAC file so a
// session can be replayed when transcription quality is in question.
type audioDump struct {
	f   *os.File
	enc *encoder.Flac
}

func newAudioDump(path string, sampleRate int) (*audioDump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := encoder.NewFlac(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &audioDump{f: f, enc: enc}, nil
}

func (d *audioDump) write(samples []int16) error {
	return d.enc.Write(samples)
}

func (d *audioDump) close() error {
	encErr := d.enc.Close()
	if err := d.f.Close(); err != nil {
		return err
	}
	return encErr
}
