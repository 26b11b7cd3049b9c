package recognition

import (
	"context"
	"strings"
	"sync"
)

// FakeEngine is a scriptable Engine for tests and offline runs.
type FakeEngine struct {
	mu         sync.Mutex
	supported  bool
	permit     bool
	startErr   error
	listening  bool
	transcript string
	handler    func(Snapshot)
	starts     int
	stops      int
	resets     int
	opts       Options
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{supported: true, permit: true}
}

func (f *FakeEngine) SetSupported(v bool) {
	f.mu.Lock()
	f.supported = v
	f.mu.Unlock()
}

func (f *FakeEngine) SetPermission(v bool) {
	f.mu.Lock()
	f.permit = v
	f.mu.Unlock()
}

func (f *FakeEngine) SetStartErr(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *FakeEngine) Supported() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported
}

func (f *FakeEngine) RequestPermission(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permit, nil
}

func (f *FakeEngine) Start(_ context.Context, opts Options) error {
	f.mu.Lock()
	f.starts++
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		return err
	}
	f.listening = true
	f.opts = opts
	f.mu.Unlock()
	f.emit()
	return nil
}

func (f *FakeEngine) Stop() error {
	f.mu.Lock()
	f.stops++
	f.listening = false
	f.mu.Unlock()
	f.emit()
	return nil
}

func (f *FakeEngine) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *FakeEngine) Reset() {
	f.mu.Lock()
	f.resets++
	f.transcript = ""
	f.mu.Unlock()
	f.emit()
}

func (f *FakeEngine) SetHandler(h func(Snapshot)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Say appends words to the transcript as if the candidate spoke them.
func (f *FakeEngine) Say(words string) {
	f.mu.Lock()
	if f.transcript != "" {
		f.transcript += " "
	}
	f.transcript += strings.TrimSpace(words)
	f.mu.Unlock()
	f.emit()
}

// Halt simulates the engine silently stopping on its own.
func (f *FakeEngine) Halt() {
	f.mu.Lock()
	f.listening = false
	f.mu.Unlock()
	f.emit()
}

func (f *FakeEngine) Transcript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript
}

func (f *FakeEngine) Counts() (starts, stops, resets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.resets
}

func (f *FakeEngine) emit() {
	f.mu.Lock()
	h := f.handler
	snap := Snapshot{Transcript: f.transcript, Listening: f.listening}
	f.mu.Unlock()
	if h != nil {
		h(snap)
	}
}
