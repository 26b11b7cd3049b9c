package clipboard

import (
	"testing"
	"time"

	"viva/conversation"
)

func TestFormat(t *testing.T) {
	at := time.Now()
	turns := []conversation.Turn{
		conversation.NewTurn(conversation.Interviewer, "Tell me about yourself.", at),
		conversation.NewTurn(conversation.Candidate, "  I build things. ", at),
	}
	got := Format(turns)
	want := "AI Interviewer: Tell me about yourself.\n\nYou: I build things."
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
	if Format(nil) != "" {
		t.Error("empty transcript should format to empty string")
	}
}

func TestCopyTranscriptEmpty(t *testing.T) {
	if err := CopyTranscript(nil); err != nil {
		t.Errorf("CopyTranscript(nil) = %v", err)
	}
}
