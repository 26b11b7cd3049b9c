package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Speaker int

const (
	Candidate Speaker = iota
	Interviewer
	System
)

func (s Speaker) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case Interviewer:
		return "interviewer"
	case System:
		return "system"
	}
	return fmt.Sprintf("speaker(%d)", int(s))
}

// Label is the default display label for the speaker.
func (s Speaker) Label() string {
	switch s {
	case Candidate:
		return "You"
	case Interviewer:
		return "AI Interviewer"
	}
	return "System"
}

// PromptName is the role name used inside AI prompt context.
func (s Speaker) PromptName() string {
	switch s {
	case Candidate:
		return "Candidate"
	case Interviewer:
		return "AI Interviewer"
	}
	return "System"
}

func ParseSpeaker(s string) (Speaker, error) {
	switch s {
	case "candidate":
		return Candidate, nil
	case "interviewer":
		return Interviewer, nil
	case "system":
		return System, nil
	}
	return 0, fmt.Errorf("unknown speaker %q", s)
}

// Turn is one immutable line of the interview transcript. Label is for
// display only.
type Turn struct {
	Speaker    Speaker
	Label      string
	Text       string
	OccurredAt time.Time
}

func NewTurn(speaker Speaker, text string, at time.Time) Turn {
	return Turn{Speaker: speaker, Label: speaker.Label(), Text: text, OccurredAt: at}
}

// Log is the append-only transcript of a session. Subscribers see turns in
// exactly the order they were appended.
type Log struct {
	order sync.Mutex // held across append and notify

	mu    sync.Mutex
	turns []Turn
	subs  []func(Turn)
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) OnAppend(fn func(Turn)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

func (l *Log) Append(t Turn) {
	l.order.Lock()
	defer l.order.Unlock()

	l.mu.Lock()
	l.turns = append(l.turns, t)
	subs := make([]func(Turn), len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Text renders the log as "Label: text" lines.
func (l *Log) Text() string {
	var b strings.Builder
	for _, t := range l.Turns() {
		fmt.Fprintf(&b, "%s: %s\n", t.Label, t.Text)
	}
	return b.String()
}
