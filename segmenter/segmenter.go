// Package segmenter turns the recognizer's ever-growing live transcript
// into discrete candidate utterances.
package segmenter

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"viva/debounce"
	"viva/log"
)

type Config struct {
	// Debounce is the quiet period after the last transcript change before
	// the pending text is finalized.
	Debounce time.Duration
	// Silence is how long the transcript may stay unchanged while
	// listening before the recognizer is assumed frozen.
	Silence  time.Duration
	MinChars int
}

type Hooks struct {
	Emit     func(utterance string)
	Restart  func()
	Speaking func() bool
}

type Segmenter struct {
	cfg   Config
	clock clockwork.Clock
	hooks Hooks

	emitMu sync.Mutex // orders finalize+emit across both timers

	mu           sync.Mutex
	raw          string
	processed    string
	listening    bool
	lastActivity time.Time
	emitted      int
	dropped      int

	quiet   *debounce.Debouncer
	silence *debounce.Debouncer
}

func New(clock clockwork.Clock, cfg Config, hooks Hooks) *Segmenter {
	if hooks.Emit == nil {
		hooks.Emit = func(string) {}
	}
	if hooks.Restart == nil {
		hooks.Restart = func() {}
	}
	if hooks.Speaking == nil {
		hooks.Speaking = func() bool { return false }
	}
	s := &Segmenter{cfg: cfg, clock: clock, hooks: hooks}
	s.quiet = debounce.New(clock, cfg.Debounce, s.onQuiet)
	s.silence = debounce.New(clock, cfg.Silence, s.onSilence)
	return s
}

// Update feeds the latest raw transcript and listening flag.
func (s *Segmenter) Update(raw string, listening bool) {
	s.mu.Lock()
	wasListening := s.listening
	s.listening = listening
	changed := raw != s.raw
	if changed {
		s.raw = raw
		if !strings.HasPrefix(raw, s.processed) {
			s.processed = clampPrefix(raw, s.processed)
		}
		s.lastActivity = s.clock.Now()
	}
	pending := len(s.raw) > len(s.processed)
	s.mu.Unlock()

	if changed && pending {
		s.quiet.Trigger()
	}
	switch {
	case listening && (changed || !wasListening):
		s.silence.Trigger()
	case !listening && wasListening:
		s.silence.Cancel()
	}
}

// clampPrefix picks a new processed prefix when the recognizer revised text
// that was already handled. The revised region counts as processed.
func clampPrefix(raw, processed string) string {
	n := len(processed)
	if n >= len(raw) {
		return raw
	}
	for n < len(raw) && !utf8.RuneStart(raw[n]) {
		n++
	}
	return raw[:n]
}

func (s *Segmenter) onQuiet() {
	s.flush()
}

func (s *Segmenter) onSilence() {
	s.mu.Lock()
	listening := s.listening
	s.mu.Unlock()
	if !listening {
		return
	}
	if s.hooks.Speaking() {
		s.silence.Trigger()
		return
	}
	s.Flush()
	log.Info("segmenter: silence window elapsed, restarting recognition")
	s.hooks.Restart()
}

// Flush finalizes the pending text now instead of waiting for the
// debounce.
func (s *Segmenter) Flush() {
	s.quiet.Cancel()
	s.flush()
}

func (s *Segmenter) flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	delta := s.raw[len(s.processed):]
	s.processed = s.raw
	text := strings.TrimSpace(delta)
	ok := text != "" && utf8.RuneCountInString(text) >= s.cfg.MinChars
	if ok {
		s.emitted++
	} else if text != "" {
		s.dropped++
	}
	s.mu.Unlock()

	if ok {
		s.hooks.Emit(text)
	}
}

// Pending returns the unprocessed suffix of the transcript.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw[len(s.processed):]
}

func (s *Segmenter) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Segmenter) Stats() (emitted, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.dropped
}

// Reset clears the buffer and cancels both timers.
func (s *Segmenter) Reset() {
	s.quiet.Cancel()
	s.silence.Cancel()
	s.mu.Lock()
	s.raw = ""
	s.processed = ""
	s.listening = false
	s.lastActivity = time.Time{}
	s.mu.Unlock()
}
