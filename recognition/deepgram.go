package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"viva/audio"
)

const deepgramEndpoint = "wss://api.deepgram.com/v1/listen"

type Deepgram struct {
	apiKey   string
	model    string
	endpoint string
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "nova-3"
	}
	return &Deepgram{apiKey: apiKey, model: model, endpoint: deepgramEndpoint}
}

type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *Deepgram) url(opts Options) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", audio.Channels))
	q.Set("interim_results", fmt.Sprintf("%t", opts.Continuous))
	q.Set("smart_format", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

// Dial satisfies Dialer.
func (d *Deepgram) Dial(ctx context.Context, opts Options) (rawSession, error) {
	u, err := d.url(opts)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	// the session outlives the start request
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	return &deepgramSession{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *deepgramSession) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *deepgramSession) CloseSend() error {
	return s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramSession) Recv() (update, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return update{}, err
		}
		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return update{}, err
		}
		// Metadata and SpeechStarted carry no transcript
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}
		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}
		return update{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramSession) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
