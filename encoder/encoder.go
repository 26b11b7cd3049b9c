// Package encoder compresses recorded interview audio.
package encoder

import "time"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// Duration is the length of audio written to e.
func Duration(e Encoder) time.Duration {
	return time.Duration(e.TotalFrames()) * time.Second / SampleRate
}
