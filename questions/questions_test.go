package questions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viva/conversation"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	never   = 50 * time.Millisecond
)

type recordingSpeaker struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSpeaker) Speak(_ context.Context, text string) error {
	r.mu.Lock()
	r.lines = append(r.lines, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSpeaker) spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

var testConfig = Config{
	Main:        []string{"Q0", "Q1", "Q2", "Q3", "Q4"},
	Coding:      []string{"Reverse a list", "Binary search"},
	CodingAfter: 2,
	RevealDelay: 1500 * time.Millisecond,
	Transition:  "Now let's move on to a coding challenge.",
	Closing:     "Thank you for your time.",
}

func newSequencer() (*Sequencer, *clockwork.FakeClock, *conversation.Log, *recordingSpeaker) {
	clock := clockwork.NewFakeClock()
	transcript := conversation.NewLog()
	sp := &recordingSpeaker{}
	return New(clock, testConfig, transcript, sp), clock, transcript, sp
}

func TestBeginAndAdvance(t *testing.T) {
	s, _, transcript, sp := newSequencer()
	ctx := context.Background()

	i, q := s.Current()
	assert.Equal(t, -1, i)
	assert.Empty(t, q)

	s.Begin(ctx)
	i, q = s.Current()
	assert.Equal(t, 0, i)
	assert.Equal(t, "Q0", q)

	assert.False(t, s.Advance(ctx))
	i, _ = s.Current()
	assert.Equal(t, 1, i)

	assert.Equal(t, []string{"Q0", "Q1"}, sp.spoken())
	turns := transcript.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.Interviewer, turns[1].Speaker)
	assert.Equal(t, "Q1", turns[1].Text)
}

func TestClosingIsIdempotent(t *testing.T) {
	s, _, transcript, sp := newSequencer()
	ctx := context.Background()
	s.Begin(ctx)
	for i := 0; i < 4; i++ {
		s.Advance(ctx)
	}
	i, _ := s.Current()
	assert.Equal(t, 4, i)

	assert.False(t, s.Finished())
	for k := 0; k < 3; k++ {
		assert.True(t, s.Advance(ctx))
	}
	assert.True(t, s.Finished())

	i, _ = s.Current()
	assert.Equal(t, 4, i, "closing does not move the index")
	closing := "Thank you for your time."
	assert.Equal(t, []string{"Q0", "Q1", "Q2", "Q3", "Q4", closing, closing, closing}, sp.spoken())
	assert.Equal(t, 3, countText(transcript, closing), "every terminal advance re-emits the closing")
}

func TestCodingReveal(t *testing.T) {
	s, clock, transcript, _ := newSequencer()
	ctx := context.Background()
	var revealed []string
	var mu sync.Mutex
	s.OnReveal = func(c string) {
		mu.Lock()
		revealed = append(revealed, c)
		mu.Unlock()
	}

	s.Begin(ctx)
	s.Advance(ctx) // 1
	s.Advance(ctx) // 2
	assert.False(t, s.Revealed())

	s.Advance(ctx) // 3, leaving index 2 schedules the reveal
	clock.Advance(1499 * time.Millisecond)
	assert.Never(t, s.Revealed, never, tick)

	clock.Advance(time.Millisecond)
	require.Eventually(t, s.Revealed, waitFor, tick)
	require.Eventually(t, func() bool { return countText(transcript, testConfig.Transition) == 1 }, waitFor, tick)
	assert.Equal(t, "Reverse a list", s.CodingQuestion())

	s.Advance(ctx) // 4
	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return countText(transcript, testConfig.Transition) != 1 }, never, tick)
	mu.Lock()
	assert.Equal(t, []string{"Reverse a list"}, revealed)
	mu.Unlock()
}

func TestResetCancelsReveal(t *testing.T) {
	s, clock, transcript, _ := newSequencer()
	ctx := context.Background()
	s.Begin(ctx)
	for i := 0; i < 3; i++ {
		s.Advance(ctx)
	}
	s.Reset()
	clock.Advance(time.Minute)

	assert.Never(t, s.Revealed, never, tick)
	assert.Equal(t, 0, countText(transcript, testConfig.Transition))
	i, _ := s.Current()
	assert.Equal(t, -1, i)
	assert.False(t, s.Advance(ctx), "advance before begin is a no-op")
}

func TestRevealSkippedAfterCancel(t *testing.T) {
	s, clock, _, _ := newSequencer()
	ctx, cancel := context.WithCancel(context.Background())
	s.Begin(ctx)
	for i := 0; i < 3; i++ {
		s.Advance(ctx)
	}
	cancel()
	clock.Advance(2 * time.Second)
	assert.Never(t, s.Revealed, never, tick)
}

func countText(l *conversation.Log, text string) int {
	n := 0
	for _, t := range l.Turns() {
		if t.Text == text {
			n++
		}
	}
	return n
}
