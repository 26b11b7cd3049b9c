package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
}

// NewOpenAI returns a provider for the OpenAI API. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) GenerateResponse(ctx context.Context, transcript, question string, opts ResponseOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	var msgs []openai.ChatCompletionMessage
	if opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.SystemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage(transcript, question)})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (o *OpenAI) TextToSpeech(ctx context.Context, text string, opts SpeechOptions) ([]byte, error) {
	model := openai.SpeechModel(opts.Model)
	if model == "" {
		model = openai.TTSModel1HD
	}
	voice := openai.SpeechVoice(opts.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}
	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	return data, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string, opts TranscribeOptions) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       openai.Whisper1,
		Reader:      bytes.NewReader(audio),
		FilePath:    "recording." + extension(mimeType),
		Prompt:      opts.Prompt,
		Temperature: opts.Temperature,
		Language:    baseLanguage(opts.Language),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// baseLanguage turns "en-US" into the ISO-639-1 "en" whisper expects.
func baseLanguage(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
