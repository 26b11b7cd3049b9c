package playback

import (
	"context"
	"math"
	"sync"
)

type Chime int

const (
	ChimeStart Chime = iota
	ChimeEnd
	ChimeError
)

var (
	chimeOnce    sync.Once
	chimeSamples map[Chime][]int16
)

func initChimes() {
	chimeSamples = map[Chime][]int16{
		ChimeStart: tick(1200, 0.2, 0.5, 60),
		ChimeEnd:   tick(900, 0.2, 0.5, 40),
		ChimeError: doubleBeep(350, 0.08, 0.05, 0.6, 30),
	}
}

func tick(freq, duration, volume, decay float64) []int16 {
	n := int(OutputRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / OutputRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(OutputRate*gapDur))
	out := make([]int16, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	return append(out, beep...)
}

// Chime plays a short cue without blocking and without touching the
// system-audio bus.
func (p *Player) Chime(c Chime) {
	chimeOnce.Do(initChimes)
	samples := chimeSamples[c]
	if len(samples) == 0 {
		return
	}
	go p.out.Play(context.Background(), samples, nil)
}

// PlayChime plays c and waits for it to finish.
func (p *Player) PlayChime(ctx context.Context, c Chime) error {
	chimeOnce.Do(initChimes)
	return p.out.Play(ctx, chimeSamples[c], nil)
}
