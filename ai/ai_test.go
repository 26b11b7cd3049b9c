package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerateResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 250, req.MaxTokens)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "be brief", req.Messages[0].Content)
			assert.Contains(t, req.Messages[1].Content, "Candidate: hello")
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Tell me more. "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	o := NewOpenAI("key", srv.URL+"/v1")
	reply, err := o.GenerateResponse(context.Background(), "Candidate: hello", "Why?", ResponseOptions{
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    250,
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "Tell me more.", reply)
}

func TestOpenAIEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAI("key", srv.URL+"/v1").GenerateResponse(context.Background(), "x", "", ResponseOptions{})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestOpenAITextToSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tts-1-hd", req["model"])
		assert.Equal(t, "alloy", req["voice"])
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake"))
	}))
	defer srv.Close()

	data, err := NewOpenAI("key", srv.URL+"/v1").TextToSpeech(context.Background(), "hi", SpeechOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ID3fake", string(data))
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		if _, hdr, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.True(t, strings.HasSuffix(hdr.Filename, ".flac"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" full interview "}`)
	}))
	defer srv.Close()

	text, err := NewOpenAI("key", srv.URL+"/v1").Transcribe(context.Background(), []byte("fLaC"), "audio/flac",
		TranscribeOptions{Language: "en-US"})
	require.NoError(t, err)
	assert.Equal(t, "full interview", text)
}

func TestGeminiGenerateResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "models/gemini-2.0-flash:generateContent")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "systemInstruction")
		assert.Contains(t, string(body), "Candidate: hi")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Go on."}]}}]}`)
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), "key", srv.URL)
	require.NoError(t, err)
	reply, err := g.GenerateResponse(context.Background(), "Candidate: hi", "", ResponseOptions{
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    100,
		SystemPrompt: "interviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, "Go on.", reply)
}

func TestMock(t *testing.T) {
	var m Mock
	reply, err := m.GenerateResponse(context.Background(), "", "", ResponseOptions{})
	require.NoError(t, err)
	assert.Equal(t, MockReply, reply)

	_, err = m.TextToSpeech(context.Background(), "hi", SpeechOptions{})
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	tests := []struct{ in, want string }{
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{"de", "de"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := baseLanguage(tt.in); got != tt.want {
			t.Errorf("baseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, "flac", extension("audio/flac"))
	assert.Equal(t, "webm", extension("video/webm"))
	assert.Equal(t, `Current question: "Why?"`, userMessage("", "Why?"))
}
