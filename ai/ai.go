// Package ai defines the interviewer's language, speech and transcription
// providers and their direct SDK implementations.
package ai

import (
	"context"
	"errors"
)

var ErrEmptyReply = errors.New("empty reply from provider")

type ResponseOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

type SpeechOptions struct {
	Voice string
	Speed float64
	Model string
}

type TranscribeOptions struct {
	Language    string
	Prompt      string
	Temperature float32
}

// Responder generates the interviewer's next line from the recent
// conversation and the question on the table.
type Responder interface {
	Name() string
	GenerateResponse(ctx context.Context, transcript, question string, opts ResponseOptions) (string, error)
}

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	TextToSpeech(ctx context.Context, text string, opts SpeechOptions) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string, opts TranscribeOptions) (string, error)
}

// userMessage is what providers without a separate question field see.
func userMessage(transcript, question string) string {
	if transcript != "" {
		return transcript
	}
	if question != "" {
		return `Current question: "` + question + `"`
	}
	return ""
}

func extension(mimeType string) string {
	switch mimeType {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	}
	return "webm"
}
