package ai

import "context"

const (
	MockReply      = "I'm a mock AI interviewer. To get real responses, please check your Flask backend connection."
	MockTranscript = "This is a mock transcription. Please check your Flask backend connection."
)

// Mock stands in for every provider when no backend or key is available.
// It never produces audio, so the speaker falls back to the local voice.
type Mock struct{}

func (Mock) Name() string { return "mock" }

func (Mock) GenerateResponse(context.Context, string, string, ResponseOptions) (string, error) {
	return MockReply, nil
}

func (Mock) TextToSpeech(context.Context, string, SpeechOptions) ([]byte, error) {
	return nil, ErrEmptyReply
}

func (Mock) Transcribe(context.Context, []byte, string, TranscribeOptions) (string, error) {
	return MockTranscript, nil
}
