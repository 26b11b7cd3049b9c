// Package conversation holds the dialogue transcript and the bounded
// context window that is sent to the AI responder.
package conversation

import (
	"strings"
	"sync"
)

const DefaultWindowSize = 6

// Window keeps the last size formatted turns, oldest first.
type Window struct {
	mu      sync.Mutex
	size    int
	entries []string
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size}
}

func (w *Window) Append(speaker Speaker, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, speaker.PromptName()+": "+text)
	if n := len(w.entries) - w.size; n > 0 {
		w.entries = append([]string(nil), w.entries[n:]...)
	}
}

// BuildPrompt renders the window for the responder, led by the current
// question when one is set.
func (w *Window) BuildPrompt(question string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(w.entries)+1)
	if question != "" {
		parts = append(parts, `Current question: "`+question+`"`)
	}
	parts = append(parts, w.entries...)
	return strings.Join(parts, "\n\n")
}

func (w *Window) Entries() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Window) Reset() {
	w.mu.Lock()
	w.entries = nil
	w.mu.Unlock()
}
