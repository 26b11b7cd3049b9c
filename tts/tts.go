// Package tts speaks interviewer lines and keeps the speaking monitor in
// step with playback.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"viva/ai"
	"viva/alert"
	"viva/log"
	"viva/playback"
	"viva/speaking"
)

const keyVoice = "tts-voice"

// Track is a loaded clip ready to play.
type Track interface {
	Play(ctx context.Context) error
	Stop()
}

// Player loads audio into playable tracks.
type Player interface {
	Load(data []byte, format playback.Format) (Track, error)
}

// Voice is a local synthesizer producing WAV audio.
type Voice interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Config struct {
	Enabled bool
	Options ai.SpeechOptions
}

type Speaker struct {
	cfg     Config
	synth   ai.Synthesizer
	local   Voice
	player  Player
	monitor *speaking.Monitor
	alerts  *alert.Once

	// serializes Speak so only one clip plays at a time
	mu sync.Mutex
}

// New returns a Speaker. synth or local may be nil.
func New(cfg Config, synth ai.Synthesizer, local Voice, player Player, monitor *speaking.Monitor, alerts *alert.Once) *Speaker {
	if alerts == nil {
		alerts = alert.NewOnce(nil)
	}
	return &Speaker{cfg: cfg, synth: synth, local: local, player: player, monitor: monitor, alerts: alerts}
}

// Speak plays text and returns when playback ends. Failures of both voices
// are reported as an alert, never returned, so the interview goes on.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if !s.cfg.Enabled || text == "" || s.player == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.speakPrimary(ctx, text)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warnf("tts: primary voice failed, using local voice: %v", err)

	lerr := s.speakLocal(ctx, text)
	if lerr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Errorf("tts: local voice failed: %v", lerr)
	s.alerts.ReportOnce(keyVoice, alert.Alert{
		Kind:    alert.Voice,
		Message: "The interviewer's voice is unavailable; replies are shown as text",
		Err:     errors.Join(err, lerr),
	})
	return nil
}

func (s *Speaker) speakPrimary(ctx context.Context, text string) error {
	if s.synth == nil {
		return errors.New("no synthesizer configured")
	}
	data, err := s.synth.TextToSpeech(ctx, text, s.cfg.Options)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	track, err := s.player.Load(data, playback.MP3)
	if err != nil {
		return err
	}
	return s.play(ctx, track)
}

func (s *Speaker) speakLocal(ctx context.Context, text string) error {
	if s.local == nil {
		return errors.New("no local voice available")
	}
	data, err := s.local.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	track, err := s.player.Load(data, playback.WAV)
	if err != nil {
		return err
	}
	return s.play(ctx, track)
}

func (s *Speaker) play(ctx context.Context, track Track) error {
	s.monitor.MarkSpeakingStart(track)
	defer s.monitor.MarkSpeakingEnd()
	return track.Play(ctx)
}

// PlayerAdapter lets a *playback.Player satisfy Player.
type PlayerAdapter struct {
	*playback.Player
}

func (a PlayerAdapter) Load(data []byte, format playback.Format) (Track, error) {
	t, err := a.Player.Load(data, format)
	if err != nil {
		return nil, err
	}
	return t, nil
}
