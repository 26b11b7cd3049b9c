package media

import (
	"bufio"
	"bytes"
	"sync"
	"testing"
	"time"

	"viva/audio"
)

func TestAudioTrackFanOut(t *testing.T) {
	pcm := make([]byte, 4096)
	capture := audio.NewFakeCapture(pcm, false)
	track := NewAudioTrack(capture)

	var mu sync.Mutex
	got := map[string]int{}
	cancelA := track.Subscribe(func(b []byte) { mu.Lock(); got["a"] += len(b); mu.Unlock() })
	track.Subscribe(func(b []byte) { mu.Lock(); got["b"] += len(b); mu.Unlock() })

	if err := track.Start(); err != nil {
		t.Fatal(err)
	}
	if got["a"] != len(pcm) || got["b"] != len(pcm) {
		t.Errorf("fan-out = %v, want %d each", got, len(pcm))
	}
	cancelA()
	if track.subs.len() != 1 {
		t.Errorf("subscribers after cancel = %d", track.subs.len())
	}

	s := NewStream(track)
	if s.Microphone() != track {
		t.Fatal("Microphone() should return the live track")
	}
	s.Stop()
	s.Stop()
	if track.Live() || capture.Running() {
		t.Error("Stop should release the capture device")
	}
	if s.Microphone() != nil {
		t.Error("no live microphone after Stop")
	}
}

func TestVideoTrackDeliversFrames(t *testing.T) {
	src := NewStaticFrames([]byte("f1"), []byte("f2"))
	track := NewVideoTrack(src)

	frames := make(chan string, 2)
	track.Subscribe(func(b []byte) { frames <- string(b) })
	if track.Live() {
		t.Fatal("track should not be live before Start")
	}
	if err := track.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	var seen []string
	for len(seen) < 2 {
		select {
		case f := <-frames:
			seen = append(seen, f)
		case <-deadline:
			t.Fatal("no frames delivered")
		}
	}
	if seen[0] != "f1" || seen[1] != "f2" {
		t.Errorf("frames = %v", seen)
	}
	track.Stop()
	if track.Live() {
		t.Error("track should not be live after Stop")
	}
	if k := track.Kind(); k != KindVideo {
		t.Errorf("Kind = %v", k)
	}
}

func TestNextJPEG(t *testing.T) {
	stream := []byte{0x00, 0x12, 0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9, 0xAA, 0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	r := bufio.NewReader(bytes.NewReader(stream))

	f1, err := nextJPEG(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f1, []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}) {
		t.Errorf("frame 1 = %x", f1)
	}
	f2, err := nextJPEG(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f2, []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}) {
		t.Errorf("frame 2 = %x", f2)
	}
	if _, err := nextJPEG(r); err == nil {
		t.Error("expected EOF")
	}
}

func TestSystemAudioQueue(t *testing.T) {
	s := NewSystemAudio()
	s.Push([]int16{1, 2, 3})
	if s.Pending() != 0 {
		t.Fatal("push before Attach should be dropped")
	}

	s.Attach()
	s.Push([]int16{1, 2, 3, 4})
	if got := s.Take(3); len(got) != 3 || got[2] != 3 {
		t.Errorf("Take(3) = %v", got)
	}
	if got := s.Take(10); len(got) != 1 || got[0] != 4 {
		t.Errorf("Take(10) = %v", got)
	}
	s.Push([]int16{9})
	s.Detach()
	if s.Pending() != 0 {
		t.Error("Detach should drop queued audio")
	}
}
