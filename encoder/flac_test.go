package encoder

import (
	"math"
	"testing"
	"time"
)

func tone(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return samples
}

func TestFlacEncoder(t *testing.T) {
	samples := tone(SampleRate * 2)

	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}
	if got := Duration(enc); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}

	flacData := enc.Bytes()
	if len(flacData) < 4 || string(flacData[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderPartialBlock(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	partial := make([]int16, BlockSize/4)
	for i := range partial {
		partial[i] = int16(i % 1000)
	}

	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
}

type countingEncoder struct {
	blocks []int
	closed bool
}

func (c *countingEncoder) EncodeBlock(block []int16) error {
	c.blocks = append(c.blocks, len(block))
	return nil
}
func (c *countingEncoder) Close() error              { c.closed = true; return nil }
func (c *countingEncoder) Bytes() []byte             { return nil }
func (c *countingEncoder) TotalFrames() uint64       { return 0 }
func (c *countingEncoder) EncodeTime() time.Duration { return 0 }

func TestBlocksRegroups(t *testing.T) {
	enc := &countingEncoder{}
	b := NewBlocks(enc)

	for _, n := range []int{1000, 5000, 3000} {
		if err := b.Write(make([]int16, n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	want := []int{BlockSize, BlockSize, 9000 - 2*BlockSize}
	if len(enc.blocks) != len(want) {
		t.Fatalf("blocks = %v, want %v", enc.blocks, want)
	}
	for i := range want {
		if enc.blocks[i] != want[i] {
			t.Errorf("block %d = %d, want %d", i, enc.blocks[i], want[i])
		}
	}
	if !enc.closed {
		t.Error("Flush did not close the encoder")
	}
}

func TestMixSaturates(t *testing.T) {
	dst := []int16{100, 30000, -30000, 5}
	Mix(dst, []int16{50, 10000, -10000})
	want := []int16{150, 32767, -32768, 5}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}
