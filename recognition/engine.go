// Package recognition drives a continuous speech-recognition engine: it
// starts, pauses and restarts the engine so the candidate is always heard
// except while the interviewer is talking.
package recognition

import (
	"context"
	"errors"
)

var (
	ErrUnsupported      = errors.New("speech recognition is not supported")
	ErrPermissionDenied = errors.New("microphone permission denied")
)

type Options struct {
	Continuous bool
	Language   string
}

// Snapshot is what an engine reports on every change: the full transcript
// since the last Reset, and whether it is currently listening.
type Snapshot struct {
	Transcript string
	Listening  bool
}

// Engine is a continuous recognizer. Implementations call the handler on
// every transcript or listening change; the handler must not block.
type Engine interface {
	Supported() bool
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context, opts Options) error
	Stop() error
	Listening() bool
	// Reset clears the transcript. The engine reports the empty transcript
	// through the handler.
	Reset()
	SetHandler(h func(Snapshot))
}
