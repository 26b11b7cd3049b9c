package media

import "sync"

// maxSystemSamples bounds the queue at one minute of 16kHz audio.
const maxSystemSamples = 60 * 16000

// SystemAudio queues the interviewer's synthesized voice (16kHz mono) for
// the recorder to mix into the microphone track. Pushes are dropped while
// no recorder is attached.
type SystemAudio struct {
	mu       sync.Mutex
	attached bool
	buf      []int16
}

func NewSystemAudio() *SystemAudio {
	return &SystemAudio{}
}

func (s *SystemAudio) Attach() {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
}

func (s *SystemAudio) Detach() {
	s.mu.Lock()
	s.attached = false
	s.buf = nil
	s.mu.Unlock()
}

func (s *SystemAudio) Push(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return
	}
	s.buf = append(s.buf, pcm...)
	if n := len(s.buf) - maxSystemSamples; n > 0 {
		s.buf = append([]int16(nil), s.buf[n:]...)
	}
}

// Take removes up to n queued samples.
func (s *SystemAudio) Take(n int) []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]int16, n)
	copy(out, s.buf[:n])
	s.buf = s.buf[n:]
	return out
}

func (s *SystemAudio) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
