//go:build linux

package playback

import (
	"context"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseSpeaker struct {
	mu     sync.Mutex
	client *pulse.Client
}

func newSpeaker() Output { return &pulseSpeaker{} }

func (p *pulseSpeaker) conn() (*pulse.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName("viva"))
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

func (p *pulseSpeaker) Play(ctx context.Context, samples []int16, stop <-chan struct{}) error {
	c, err := p.conn()
	if err != nil {
		return err
	}

	var mu sync.Mutex
	halted := false
	halt := func() {
		mu.Lock()
		halted = true
		mu.Unlock()
	}
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		mu.Lock()
		h := halted
		mu.Unlock()
		if h || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(OutputRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return err
	}
	defer stream.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
		case <-ctx.Done():
		case <-done:
			return
		}
		// the reader ends the stream; Drain returns once buffered audio plays
		halt()
	}()

	stream.Start()
	stream.Drain()
	close(done)
	stream.Stop()
	return stream.Error()
}
