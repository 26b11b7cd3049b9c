package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var ErrNoLocalVoice = errors.New("no local speech synthesizer found")

// Command synthesizes speech with espeak-ng, espeak or macOS say.
type Command struct {
	path string
	say  bool
}

// FindCommand returns the first local synthesizer on PATH.
func FindCommand() (*Command, error) {
	if runtime.GOOS == "darwin" {
		if p, err := exec.LookPath("say"); err == nil {
			return &Command{path: p, say: true}, nil
		}
	}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if p, err := exec.LookPath(name); err == nil {
			return &Command{path: p}, nil
		}
	}
	return nil, ErrNoLocalVoice
}

func (c *Command) Name() string { return filepath.Base(c.path) }

func (c *Command) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.say {
		return c.sayWAV(ctx, text)
	}
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, "--stdout", text)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.Name(), err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out.Bytes(), nil
}

// say cannot write WAV to stdout.
func (c *Command) sayWAV(ctx context.Context, text string) ([]byte, error) {
	f, err := os.CreateTemp("", "viva-say-*.wav")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, c.path, "-o", path, "--data-format=LEI16@22050", text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("say: %w: %s", err, bytes.TrimSpace(out))
	}
	return os.ReadFile(path)
}
