package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
	StatusFailed  Status = "failed"
)

type Session struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
	Status        Status    `json:"status"`
	Provider      string    `json:"provider"`
	QuestionCount int       `json:"question_count"`
	TurnCount     int       `json:"turn_count"`
	RecordingID   string    `json:"recording_id,omitempty"`
}

type Recording struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Name      string        `json:"name"`
	Path      string        `json:"-"`
	Size      int64         `json:"size"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}
