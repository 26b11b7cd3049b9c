// Package alert carries user-visible, non-fatal notifications from the
// interview pipeline to whatever is rendering the session.
package alert

import (
	"fmt"
	"sync"
)

type Kind int

const (
	Info Kind = iota
	Capability
	Permission
	Network
	Request
	Recognition
	Recording
	Voice
)

func (k Kind) String() string {
	switch k {
	case Info:
		return "info"
	case Capability:
		return "capability"
	case Permission:
		return "permission"
	case Network:
		return "network"
	case Request:
		return "request"
	case Recognition:
		return "recognition"
	case Recording:
		return "recording"
	case Voice:
		return "voice"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Alert struct {
	Kind    Kind
	Message string
	Err     error
}

func (a Alert) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", a.Message, a.Err)
	}
	return a.Message
}

type Reporter interface {
	Report(a Alert)
}

// Func adapts a plain function to Reporter.
type Func func(a Alert)

func (f Func) Report(a Alert) { f(a) }

// Discard drops every alert.
var Discard Reporter = Func(func(Alert) {})

// Once forwards the first alert for each key and drops the rest until the
// key is cleared.
type Once struct {
	next Reporter

	mu   sync.Mutex
	seen map[string]bool
}

func NewOnce(next Reporter) *Once {
	if next == nil {
		next = Discard
	}
	return &Once{next: next, seen: make(map[string]bool)}
}

func (o *Once) ReportOnce(key string, a Alert) bool {
	o.mu.Lock()
	if o.seen[key] {
		o.mu.Unlock()
		return false
	}
	o.seen[key] = true
	o.mu.Unlock()
	o.next.Report(a)
	return true
}

func (o *Once) Report(a Alert) { o.next.Report(a) }

func (o *Once) Clear(key string) {
	o.mu.Lock()
	delete(o.seen, key)
	o.mu.Unlock()
}

func (o *Once) Reset() {
	o.mu.Lock()
	o.seen = make(map[string]bool)
	o.mu.Unlock()
}

// Recorder keeps every alert it receives. Used by tests and the plain sink.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Report(a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Kind == k {
			n++
		}
	}
	return n
}
