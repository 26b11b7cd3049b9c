// Package speaking tracks whether the AI interviewer is currently talking.
// One Monitor exists per process; it is written only by the TTS driver and
// read by anything that must stay quiet while the AI speaks.
package speaking

import (
	"sync"
	"time"
)

// Playback is a handle to audio that is currently playing.
type Playback interface {
	Stop()
}

type Monitor struct {
	mu       sync.RWMutex
	speaking bool
	active   Playback
	since    time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// MarkSpeakingStart records p as the active playback. A second call before
// MarkSpeakingEnd replaces the handle.
func (m *Monitor) MarkSpeakingStart(p Playback) {
	m.mu.Lock()
	m.speaking = true
	m.active = p
	m.since = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) MarkSpeakingEnd() {
	m.mu.Lock()
	m.speaking = false
	m.active = nil
	m.since = time.Time{}
	m.mu.Unlock()
}

func (m *Monitor) IsSpeaking() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speaking
}

func (m *Monitor) Active() Playback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Since returns when the current playback started, or zero.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// StopActive interrupts the active playback, if any. The playback driver
// still clears the state when its Play call returns.
func (m *Monitor) StopActive() {
	m.mu.RLock()
	p := m.active
	m.mu.RUnlock()
	if p != nil {
		p.Stop()
	}
}
