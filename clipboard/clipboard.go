// Package clipboard hands the finished interview transcript to the
// system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"

	"viva/conversation"
)

var ErrUnsupported = errors.New("no clipboard utility available")

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// Format renders turns as a plain transcript, one "Label: text" paragraph
// per turn.
func Format(turns []conversation.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t.Label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
	}
	return b.String()
}

// CopyTranscript copies the formatted transcript. An empty transcript is
// not copied.
func CopyTranscript(turns []conversation.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return Copy(Format(turns))
}
