// Package playback plays synthesized interviewer speech and mirrors it to
// the recording's system-audio bus.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"viva/audio"
	"viva/media"
)

const (
	OutputRate  = 44100
	resampleQ   = 4
	tapInterval = 100 * time.Millisecond
)

var ErrEmptyAudio = errors.New("no audio to play")

type Format int

const (
	MP3 Format = iota
	WAV
)

// Output renders mono int16 samples at OutputRate. Play blocks until the
// samples are played or stop is closed.
type Output interface {
	Play(ctx context.Context, samples []int16, stop <-chan struct{}) error
}

type Player struct {
	out Output
	tap *media.SystemAudio
}

// NewPlayer plays through out, or the platform speaker when out is nil.
// tap may be nil.
func NewPlayer(out Output, tap *media.SystemAudio) *Player {
	if out == nil {
		out = newSpeaker()
	}
	return &Player{out: out, tap: tap}
}

// Track is one decoded clip. It satisfies speaking.Playback.
type Track struct {
	player *Player
	out    []int16
	tap    []int16

	stop     chan struct{}
	stopOnce sync.Once
}

func (p *Player) Load(data []byte, format Format) (*Track, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	rc := io.NopCloser(bytes.NewReader(data))
	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch format {
	case WAV:
		s, f, err = wav.Decode(rc)
	default:
		s, f, err = mp3.Decode(rc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	defer s.Close()

	buf := beep.NewBuffer(f)
	buf.Append(s)
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	out := render(beep.Resample(resampleQ, f.SampleRate, OutputRate, buf.Streamer(0, buf.Len())))
	tap := render(beep.Resample(resampleQ, f.SampleRate, audio.SampleRate, buf.Streamer(0, buf.Len())))
	return p.newTrack(out, tap), nil
}

// Samples wraps mono samples already at OutputRate.
func (p *Player) Samples(samples []int16) *Track {
	return p.newTrack(samples, downsample(samples, OutputRate, audio.SampleRate))
}

func (p *Player) newTrack(out, tap []int16) *Track {
	return &Track{player: p, out: out, tap: tap, stop: make(chan struct{})}
}

func (t *Track) Duration() time.Duration {
	return time.Duration(len(t.out)) * time.Second / OutputRate
}

// Play blocks until the track finishes, is stopped, or ctx is done.
func (t *Track) Play(ctx context.Context) error {
	tapDone := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(tapDone)
		t.feedTap(finished)
	}()

	err := t.player.out.Play(ctx, t.out, t.stop)
	close(finished)
	<-tapDone
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return ctx.Err()
}

func (t *Track) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// feedTap pushes the 16kHz copy to the system-audio bus at playback pace.
func (t *Track) feedTap(finished <-chan struct{}) {
	bus := t.player.tap
	if bus == nil || len(t.tap) == 0 {
		return
	}
	ticker := time.NewTicker(tapInterval)
	defer ticker.Stop()
	start := time.Now()
	pos := 0
	for pos < len(t.tap) {
		select {
		case <-finished:
			return
		case <-t.stop:
			return
		case <-ticker.C:
		}
		due := min(int(time.Since(start)*audio.SampleRate/time.Second), len(t.tap))
		if due > pos {
			bus.Push(t.tap[pos:due])
			pos = due
		}
	}
}

// render drains s into mono int16.
func render(s beep.Streamer) []int16 {
	var out []int16
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, toInt16((frame[0]+frame[1])/2))
		}
		if !ok || n == 0 {
			return out
		}
	}
}

func toInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// downsample picks the nearest source sample; used only for tones.
func downsample(samples []int16, from, to int) []int16 {
	if len(samples) == 0 || from <= 0 || to <= 0 {
		return nil
	}
	n := len(samples) * to / from
	out := make([]int16, n)
	for i := range out {
		out[i] = samples[i*from/to]
	}
	return out
}
