// Package encoder writes the processed capture stream to disk for later
// inspection. The dump is lossless FLAC so a session can be replayed
// through the pipeline exactly as the service received it.
package encoder

const (
	Channels      = 1
	BitsPerSample = 16
	// BlockSize is the fixed FLAC frame length in samples. Writes are
	// buffered until a full block is available; Close flushes the
	// remainder as a short final frame.
	BlockSize = 4096
)
