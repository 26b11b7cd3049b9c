// Package responder turns a finalized candidate utterance into a spoken
// interviewer reply, one request at a time.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"viva/ai"
	"viva/alert"
	"viva/backend"
	"viva/conversation"
	"viva/log"
)

var (
	ErrTooShort = errors.New("utterance too short")
	ErrBusy     = errors.New("a response is already in progress")
)

const (
	keyNetwork = "responder-network"
	keyRequest = "responder-request"
)

var DefaultAdvancePhrases = []string{"next question", "let's move on", "move on to", "next topic"}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type Config struct {
	MinTokens          int
	Options            ai.ResponseOptions
	AdvancePhrases     []string
	AdvanceAfterCoding bool
}

// Hooks connect the coordinator to the rest of the session. Any may be nil.
type Hooks struct {
	// Advance moves to the next question after a reply that asks for it.
	Advance func(ctx context.Context)
	// CodingRevealed reports whether the coding challenge is showing.
	CodingRevealed func() bool
	// Processing observes every change of the in-flight flag.
	Processing func(bool)
}

type Result struct {
	Reply    string
	Advanced bool
}

type Coordinator struct {
	cfg        Config
	responder  ai.Responder
	window     *conversation.Window
	transcript *conversation.Log
	speaker    Speaker
	clock      clockwork.Clock
	alerts     *alert.Once
	hooks      Hooks

	slot       *semaphore.Weighted
	processing atomic.Bool
}

func New(cfg Config, responder ai.Responder, window *conversation.Window, transcript *conversation.Log,
	speaker Speaker, clock clockwork.Clock, alerts *alert.Once, hooks Hooks) *Coordinator {
	if alerts == nil {
		alerts = alert.NewOnce(nil)
	}
	if cfg.AdvancePhrases == nil {
		cfg.AdvancePhrases = DefaultAdvancePhrases
	}
	return &Coordinator{
		cfg:        cfg,
		responder:  responder,
		window:     window,
		transcript: transcript,
		speaker:    speaker,
		clock:      clock,
		alerts:     alerts,
		hooks:      hooks,
		slot:       semaphore.NewWeighted(1),
	}
}

func (c *Coordinator) Processing() bool { return c.processing.Load() }

// ProcessUtterance asks the responder for a reply to text, speaks it, and
// advances the question when the reply says so. It returns ErrBusy
// without side effects while another call is in flight.
func (c *Coordinator) ProcessUtterance(ctx context.Context, text, question string) (Result, error) {
	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < c.cfg.MinTokens {
		log.Infof("responder: skipping short utterance %q", text)
		return Result{}, ErrTooShort
	}
	if !c.slot.TryAcquire(1) {
		return Result{}, ErrBusy
	}
	c.setProcessing(true)
	defer func() {
		c.setProcessing(false)
		c.slot.Release(1)
	}()

	c.window.Append(conversation.Candidate, text)
	prompt := c.window.BuildPrompt(question)

	start := c.clock.Now()
	reply, err := c.responder.GenerateResponse(ctx, prompt, question, c.cfg.Options)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		c.report(err)
		return Result{}, fmt.Errorf("generate response: %w", err)
	}
	c.alerts.Clear(keyNetwork)
	c.alerts.Clear(keyRequest)

	c.window.Append(conversation.Interviewer, reply)
	c.transcript.Append(conversation.NewTurn(conversation.Interviewer, reply, c.clock.Now()))

	if err := c.speaker.Speak(ctx, reply); err != nil && ctx.Err() == nil {
		log.Warnf("responder: speak: %v", err)
	}

	advance := c.shouldAdvance(reply)
	log.ResponseMetrics(c.responder.Name(), c.clock.Since(start), len(prompt), len(reply), advance)
	if advance && c.hooks.Advance != nil && ctx.Err() == nil {
		c.hooks.Advance(ctx)
	}
	return Result{Reply: reply, Advanced: advance}, nil
}

func (c *Coordinator) shouldAdvance(reply string) bool {
	if !ContainsAdvancePhrase(reply, c.cfg.AdvancePhrases) {
		return false
	}
	if !c.cfg.AdvanceAfterCoding && c.hooks.CodingRevealed != nil && c.hooks.CodingRevealed() {
		return false
	}
	return true
}

// ContainsAdvancePhrase matches phrases case-insensitively anywhere in
// reply.
func ContainsAdvancePhrase(reply string, phrases []string) bool {
	lower := strings.ToLower(reply)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (c *Coordinator) report(err error) {
	if backend.IsNetwork(err) {
		c.alerts.ReportOnce(keyNetwork, alert.Alert{
			Kind:    alert.Network,
			Message: "Cannot reach the AI service; check your connection",
			Err:     err,
		})
		return
	}
	c.alerts.ReportOnce(keyRequest, alert.Alert{
		Kind:    alert.Request,
		Message: "The AI service could not answer",
		Err:     err,
	})
}

func (c *Coordinator) setProcessing(v bool) {
	c.processing.Store(v)
	if c.hooks.Processing != nil {
		c.hooks.Processing(v)
	}
}
