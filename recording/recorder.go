package recording

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"viva/audio"
	"viva/encoder"
	"viva/media"
)

// recorder captures one session's tracks into memory.
type recorder struct {
	clock      clockwork.Clock
	interval   time.Duration
	frameBytes int // video budget per chunk
	system     *media.SystemAudio

	enc    *encoder.FlacEncoder
	blocks *encoder.Blocks
	unsubs []func()
	ticker clockwork.Ticker
	done   chan struct{}
	exited chan struct{}

	mu       sync.Mutex
	started  time.Time
	mic      []int16
	frames   [][]byte
	video    []byte
	samples  int
	admitted int
	dropped  int
	chunks   int
	encErr   error
}

func newRecorder(clock clockwork.Clock, cfg Config, stream *media.Stream, system *media.SystemAudio) (*recorder, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}
	r := &recorder{
		clock:      clock,
		interval:   cfg.ChunkInterval,
		frameBytes: int(int64(cfg.VideoBitsPerSecond) / 8 * int64(cfg.ChunkInterval) / int64(time.Second)),
		system:     system,
		enc:        enc,
		blocks:     encoder.NewBlocks(enc),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		started:    clock.Now(),
	}
	for _, t := range stream.AudioTracks() {
		r.unsubs = append(r.unsubs, t.Subscribe(r.onAudio))
	}
	for _, t := range stream.VideoTracks() {
		r.unsubs = append(r.unsubs, t.Subscribe(r.onFrame))
	}
	if system != nil {
		system.Attach()
	}
	r.ticker = clock.NewTicker(cfg.ChunkInterval)
	go r.run()
	return r, nil
}

func (r *recorder) onAudio(pcm []byte) {
	s := audio.Samples(pcm)
	r.mu.Lock()
	r.mic = append(r.mic, s...)
	r.mu.Unlock()
}

func (r *recorder) onFrame(frame []byte) {
	f := append([]byte(nil), frame...)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) run() {
	defer close(r.exited)
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.Chan():
			r.flush()
		}
	}
}

// flush encodes one chunk: microphone audio mixed with the interviewer's
// voice, and as many pending video frames as the bitrate allows.
func (r *recorder) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	mic := r.mic
	r.mic = nil
	if r.system != nil && len(mic) > 0 {
		encoder.Mix(mic, r.system.Take(len(mic)))
	}
	if len(mic) > 0 && r.encErr == nil {
		if err := r.blocks.Write(mic); err != nil {
			r.encErr = err
		}
		r.samples += len(mic)
	}

	budget := r.frameBytes
	for _, f := range r.frames {
		if r.frameBytes > 0 && len(f) > budget {
			r.dropped++
			continue
		}
		budget -= len(f)
		r.video = append(r.video, f...)
		r.admitted++
	}
	r.frames = nil
	r.chunks++
}

// stop ends capture. With finalize it flushes the tail and closes the
// encoder; otherwise the data is discarded.
func (r *recorder) stop(finalize bool) {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	<-r.exited
	r.ticker.Stop()
	for _, u := range r.unsubs {
		u()
	}
	if finalize {
		r.flush()
		r.mu.Lock()
		if err := r.blocks.Flush(); err != nil && r.encErr == nil {
			r.encErr = err
		}
		r.mu.Unlock()
	}
	if r.system != nil {
		r.system.Detach()
	}
}
