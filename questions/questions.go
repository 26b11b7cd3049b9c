// Package questions walks the interview's fixed question list and reveals
// the coding challenge partway through.
package questions

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"viva/conversation"
	"viva/log"
)

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Config struct {
	Main        []string
	Coding      []string
	CodingAfter int
	RevealDelay time.Duration
	Transition  string
	Closing     string
}

type Sequencer struct {
	cfg     Config
	clock   clockwork.Clock
	log     *conversation.Log
	speaker Speaker

	// OnQuestion runs after the index moves; OnReveal after the coding
	// challenge is shown. Both run outside the sequencer's lock.
	OnQuestion func(index int, question string)
	OnReveal   func(coding string)

	mu       sync.Mutex
	index    int
	revealed bool
	closed   bool
	pending  clockwork.Timer
	gen      uint64
}

func New(clock clockwork.Clock, cfg Config, transcript *conversation.Log, speaker Speaker) *Sequencer {
	return &Sequencer{cfg: cfg, clock: clock, log: transcript, speaker: speaker, index: -1}
}

// Begin asks the first question.
func (s *Sequencer) Begin(ctx context.Context) {
	s.mu.Lock()
	if len(s.cfg.Main) == 0 {
		s.mu.Unlock()
		return
	}
	s.index = 0
	q := s.cfg.Main[0]
	s.mu.Unlock()

	s.notifyQuestion(0, q)
	s.say(ctx, q)
}

// Advance moves to the next question. Past the last one it logs and
// speaks the closing statement again on every call without moving the
// index. It reports whether the interview is finished.
func (s *Sequencer) Advance(ctx context.Context) bool {
	s.mu.Lock()
	n := len(s.cfg.Main)
	if s.index < 0 || n == 0 {
		s.mu.Unlock()
		return false
	}
	if s.index >= n-1 {
		s.closed = true
		s.mu.Unlock()
		s.say(ctx, s.cfg.Closing)
		return true
	}

	prev := s.index
	s.index++
	i, q := s.index, s.cfg.Main[s.index]
	if prev == s.cfg.CodingAfter && !s.revealed && len(s.cfg.Coding) > 0 {
		s.scheduleReveal(ctx)
	}
	s.mu.Unlock()

	s.notifyQuestion(i, q)
	s.say(ctx, q)
	return false
}

// scheduleReveal must be called with mu held.
func (s *Sequencer) scheduleReveal(ctx context.Context) {
	if s.pending != nil {
		s.pending.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = s.clock.AfterFunc(s.cfg.RevealDelay, func() { s.reveal(ctx, gen) })
}

func (s *Sequencer) reveal(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.revealed || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.revealed = true
	coding := s.cfg.Coding[0]
	s.mu.Unlock()

	log.Infof("questions: coding challenge revealed")
	if s.OnReveal != nil {
		s.OnReveal(coding)
	}
	s.say(ctx, s.cfg.Transition)
}

// Reset returns to the state before Begin and cancels a pending reveal.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = -1
	s.revealed = false
	s.closed = false
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

// Current returns the active question and its index, or -1 and "".
func (s *Sequencer) Current() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < 0 || s.index >= len(s.cfg.Main) {
		return -1, ""
	}
	return s.index, s.cfg.Main[s.index]
}

func (s *Sequencer) Revealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed
}

// CodingQuestion is the challenge shown once revealed.
func (s *Sequencer) CodingQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revealed || len(s.cfg.Coding) == 0 {
		return ""
	}
	return s.cfg.Coding[0]
}

func (s *Sequencer) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sequencer) Total() int { return len(s.cfg.Main) }

func (s *Sequencer) notifyQuestion(i int, q string) {
	if s.OnQuestion != nil {
		s.OnQuestion(i, q)
	}
}

func (s *Sequencer) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	s.log.Append(conversation.NewTurn(conversation.Interviewer, text, s.clock.Now()))
	if s.speaker == nil {
		return
	}
	if err := s.speaker.Speak(ctx, text); err != nil && ctx.Err() == nil {
		log.Warnf("questions: speak: %v", err)
	}
}
