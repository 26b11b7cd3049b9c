//go:build !linux

package playback

import (
	"context"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

type beepSpeaker struct {
	once sync.Once
	err  error
}

func newSpeaker() Output { return &beepSpeaker{} }

func (b *beepSpeaker) init() error {
	b.once.Do(func() {
		sr := beep.SampleRate(OutputRate)
		b.err = speaker.Init(sr, sr.N(100*time.Millisecond))
	})
	return b.err
}

func (b *beepSpeaker) Play(ctx context.Context, samples []int16, stop <-chan struct{}) error {
	if err := b.init(); err != nil {
		return err
	}
	pos := 0
	stopped := false // guarded by the speaker lock
	src := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if stopped || pos >= len(samples) {
			return 0, false
		}
		n := 0
		for n < len(buf) && pos < len(samples) {
			v := float64(samples[pos]) / 32768
			buf[n] = [2]float64{v, v}
			n++
			pos++
		}
		return n, true
	})
	done := make(chan struct{})
	speaker.Play(beep.Seq(src, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-stop:
	case <-ctx.Done():
	}
	speaker.Lock()
	stopped = true
	speaker.Unlock()
	<-done
	return nil
}
