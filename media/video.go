package media

import (
	"sync"
)

// FrameSource produces encoded video frames (JPEG) until closed.
type FrameSource interface {
	Frames() <-chan []byte
	Name() string
	Close() error
}

// VideoTrack pumps frames from a FrameSource to subscribers once started.
type VideoTrack struct {
	src  FrameSource
	subs subscribers[[]byte]

	mu        sync.Mutex
	live      bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewVideoTrack(src FrameSource) *VideoTrack {
	return &VideoTrack{src: src}
}

func (t *VideoTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return nil
	}
	t.live = true
	t.done = make(chan struct{})
	go t.pump(t.done)
	return nil
}

func (t *VideoTrack) pump(done chan struct{}) {
	defer close(done)
	for frame := range t.src.Frames() {
		t.subs.publish(frame)
	}
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

func (t *VideoTrack) Subscribe(fn func(frame []byte)) (cancel func()) {
	return t.subs.add(fn)
}

func (t *VideoTrack) Kind() Kind    { return KindVideo }
func (t *VideoTrack) Label() string { return t.src.Name() }

func (t *VideoTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *VideoTrack) Stop() {
	t.mu.Lock()
	t.live = false
	done := t.done
	t.mu.Unlock()
	t.closeOnce.Do(func() { t.src.Close() })
	if done != nil {
		<-done
	}
}

// StaticFrames replays a fixed set of frames once. Used in tests and for
// audio-only sessions that still want a placeholder picture.
type StaticFrames struct {
	ch   chan []byte
	once sync.Once
	stop chan struct{}
}

func NewStaticFrames(frames ...[]byte) *StaticFrames {
	s := &StaticFrames{ch: make(chan []byte), stop: make(chan struct{})}
	go func() {
		defer close(s.ch)
		for _, f := range frames {
			select {
			case s.ch <- f:
			case <-s.stop:
				return
			}
		}
		<-s.stop
	}()
	return s
}

func (s *StaticFrames) Frames() <-chan []byte { return s.ch }
func (s *StaticFrames) Name() string          { return "static" }

func (s *StaticFrames) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
