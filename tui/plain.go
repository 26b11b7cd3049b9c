package tui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"viva/alert"
	"viva/conversation"
	"viva/interview"
)

// Interactive reports whether f is a terminal that can host the full UI.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Plain prints interview events as lines, for pipes and dumb terminals.
type Plain struct {
	w io.Writer

	mu       sync.Mutex
	question int
	coding   bool
	ended    bool
}

func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w, question: -1}
}

var (
	labelColors = map[conversation.Speaker]*color.Color{
		conversation.Candidate:   color.New(color.FgBlue, color.Bold),
		conversation.Interviewer: color.New(color.FgGreen, color.Bold),
		conversation.System:      color.New(color.FgHiBlack, color.Bold),
	}
	alertColor = color.New(color.FgYellow)
)

func (p *Plain) Status(s interview.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Status == interview.Running && s.QuestionIndex >= 0 && s.QuestionIndex != p.question {
		p.question = s.QuestionIndex
		fmt.Fprintf(p.w, "-- question %d of %d --\n", s.QuestionIndex+1, s.Questions)
	}
	if s.CodingRevealed && !p.coding {
		p.coding = true
		fmt.Fprintf(p.w, "-- coding challenge --\n%s\n", s.CodingQuestion)
	}
	if s.Status == interview.Ended && !p.ended {
		p.ended = true
		if s.Artifact != nil {
			fmt.Fprintf(p.w, "-- interview ended, recording saved to %s --\n", s.Artifact.Path)
		} else {
			fmt.Fprintln(p.w, "-- interview ended --")
		}
	}
}

func (p *Plain) Turn(t conversation.Turn) {
	c, ok := labelColors[t.Speaker]
	if !ok {
		c = color.New()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s %s\n", t.OccurredAt.Format("15:04:05"), c.Sprint(t.Label+":"), t.Text)
}

func (p *Plain) Partial(string) {}

func (p *Plain) Alert(a alert.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, alertColor.Sprint("! "+a.String()))
}
