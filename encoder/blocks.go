package encoder

// Blocks regroups a stream of arbitrary-length sample slices into
// BlockSize blocks for an Encoder.
type Blocks struct {
	enc Encoder
	buf []int16
}

func NewBlocks(enc Encoder) *Blocks {
	return &Blocks{enc: enc, buf: make([]int16, 0, BlockSize)}
}

func (b *Blocks) Write(samples []int16) error {
	for len(samples) > 0 {
		n := min(BlockSize-len(b.buf), len(samples))
		b.buf = append(b.buf, samples[:n]...)
		samples = samples[n:]
		if len(b.buf) == BlockSize {
			if err := b.enc.EncodeBlock(b.buf); err != nil {
				return err
			}
			b.buf = b.buf[:0]
		}
	}
	return nil
}

// Flush encodes the trailing partial block and closes the encoder.
func (b *Blocks) Flush() error {
	if len(b.buf) > 0 {
		if err := b.enc.EncodeBlock(b.buf); err != nil {
			return err
		}
		b.buf = b.buf[:0]
	}
	return b.enc.Close()
}

// Mix adds other into dst in place with saturation. Samples of other past
// len(dst) are ignored.
func Mix(dst, other []int16) {
	for i := 0; i < len(dst) && i < len(other); i++ {
		v := int32(dst[i]) + int32(other[i])
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = int16(v)
	}
}
