// Package media models the session's capture stream: one or more audio
// tracks from the microphone, an optional camera track, and a bus carrying
// the interviewer's synthesized voice to the recorder.
package media

import (
	"fmt"
	"sync"

	"viva/audio"
	"viva/log"
)

type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

type Track interface {
	Kind() Kind
	Label() string
	Live() bool
	Start() error
	Stop()
}

// Stream is owned by the interview session. Consumers subscribe to its
// tracks; only the recording coordinator stops them.
type Stream struct {
	audio []*AudioTrack
	video []*VideoTrack

	stopOnce sync.Once
}

func NewStream(tracks ...Track) *Stream {
	s := &Stream{}
	for _, t := range tracks {
		switch t := t.(type) {
		case *AudioTrack:
			s.audio = append(s.audio, t)
		case *VideoTrack:
			s.video = append(s.video, t)
		}
	}
	return s
}

func (s *Stream) AudioTracks() []*AudioTrack { return s.audio }
func (s *Stream) VideoTracks() []*VideoTrack { return s.video }

func (s *Stream) Tracks() []Track {
	out := make([]Track, 0, len(s.audio)+len(s.video))
	for _, t := range s.audio {
		out = append(out, t)
	}
	for _, t := range s.video {
		out = append(out, t)
	}
	return out
}

// Microphone returns the first live audio track, or nil.
func (s *Stream) Microphone() *AudioTrack {
	for _, t := range s.audio {
		if t.Live() {
			return t
		}
	}
	return nil
}

// Start opens every track. A camera that fails to start is dropped from the
// stream; a microphone failure is returned.
func (s *Stream) Start() error {
	for _, t := range s.audio {
		if err := t.Start(); err != nil {
			return fmt.Errorf("microphone %s: %w", t.Label(), err)
		}
	}
	kept := s.video[:0]
	for _, t := range s.video {
		if err := t.Start(); err != nil {
			log.Warnf("camera %s: %v", t.Label(), err)
			continue
		}
		kept = append(kept, t)
	}
	s.video = kept
	return nil
}

func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.Tracks() {
			t.Stop()
		}
	})
}

type subscribers[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[T]) publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.fns {
		fn(v)
	}
}

func (s *subscribers[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}

// AudioTrack fans microphone PCM out to any number of subscribers.
// Subscribers must copy data they keep.
type AudioTrack struct {
	dev  audio.CaptureDevice
	subs subscribers[[]byte]

	mu   sync.Mutex
	live bool
}

func NewAudioTrack(dev audio.CaptureDevice) *AudioTrack {
	t := &AudioTrack{dev: dev}
	dev.SetCallback(func(data []byte, _ uint32) {
		t.subs.publish(data)
	})
	return t
}

// Start opens the device. A failure here is how a denied or missing
// microphone shows up.
func (t *AudioTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live {
		return nil
	}
	if err := t.dev.Start(); err != nil {
		return err
	}
	t.live = true
	return nil
}

func (t *AudioTrack) Subscribe(fn func(pcm []byte)) (cancel func()) {
	return t.subs.add(fn)
}

func (t *AudioTrack) Kind() Kind    { return KindAudio }
func (t *AudioTrack) Label() string { return t.dev.DeviceName() }

func (t *AudioTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *AudioTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	t.live = false
	t.dev.ClearCallback()
	t.dev.Stop()
	t.dev.Close()
}
