package interview

import (
	"viva/alert"
	"viva/conversation"
	"viva/log"
)

// EventSink abstracts the display layer so the terminal UI, the plain line
// printer and the live websocket feed receive the same session events.
// Methods may be called from any goroutine and must not block.
type EventSink interface {
	Status(s Session)
	Turn(t conversation.Turn)
	Partial(text string)
	Alert(a alert.Alert)
}

type nopSink struct{}

func (nopSink) Status(Session)         {}
func (nopSink) Turn(conversation.Turn) {}
func (nopSink) Partial(string)         {}
func (nopSink) Alert(alert.Alert)      {}

// Sinks fans events out to every non-nil sink.
type Sinks []EventSink

func (m Sinks) Status(s Session) {
	for _, k := range m {
		k.Status(s)
	}
}

func (m Sinks) Turn(t conversation.Turn) {
	for _, k := range m {
		k.Turn(t)
	}
}

func (m Sinks) Partial(text string) {
	for _, k := range m {
		k.Partial(text)
	}
}

func (m Sinks) Alert(a alert.Alert) {
	for _, k := range m {
		k.Alert(a)
	}
}

// Reporter logs alerts and forwards them to sink.
func Reporter(sink EventSink) alert.Reporter {
	return alert.Func(func(a alert.Alert) {
		log.Warnf("alert [%s]: %s", a.Kind, a)
		if sink != nil {
			sink.Alert(a)
		}
	})
}
