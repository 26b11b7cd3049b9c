package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"viva/ai"
	"viva/config"
	"viva/store"
)

func TestPickerKeys(t *testing.T) {
	p := &picker{names: []string{"Built-in", "USB", "Headset"}}

	steps := []struct {
		key     string
		cursor  int
		done    bool
		aborted bool
	}{
		{"\x1b[B", 1, false, false},
		{"j", 2, false, false},
		{"j", 2, false, false},
		{"\x1b[A", 1, false, false},
		{"k", 0, false, false},
		{"k", 0, false, false},
		{"x", 0, false, false},
		{"\r", 0, true, false},
	}
	for i, s := range steps {
		done, aborted := p.key([]byte(s.key))
		if p.cursor != s.cursor || done != s.done || aborted != s.aborted {
			t.Fatalf("step %d (%q): cursor=%d done=%v aborted=%v", i, s.key, p.cursor, done, aborted)
		}
	}

	if _, aborted := p.key([]byte{3}); !aborted {
		t.Fatal("ctrl+c should abort")
	}
}

func TestPickerRender(t *testing.T) {
	p := &picker{names: []string{"Built-in", "USB"}, cursor: 1}
	var b bytes.Buffer
	p.render(&b)
	out := b.String()
	if !strings.Contains(out, "▶ USB") {
		t.Errorf("cursor not on USB: %q", out)
	}
	if strings.Contains(out, "▶ Built-in") {
		t.Errorf("two entries highlighted: %q", out)
	}
}

func TestRunFlagsApply(t *testing.T) {
	cfg := config.Defaults()
	f := &runFlags{provider: "mock", camera: "default", noTTS: true, noRecord: true}
	if err := f.apply(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Responder.Provider != "mock" || cfg.Recording.Camera != "default" {
		t.Errorf("flags not applied: %+v", cfg.Responder)
	}
	if cfg.TTS.Enabled || cfg.Recording.Enabled {
		t.Error("tts and recording should be disabled")
	}

	cfg = config.Defaults()
	if err := (&runFlags{provider: "nope"}).apply(&cfg); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestNewProvider(t *testing.T) {
	cfg := config.Defaults()

	cfg.Responder.Provider = "mock"
	p, err := newProvider(context.Background(), cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.responder.Name() != "mock" || p.health != nil || p.transcriber != nil {
		t.Errorf("mock provider = %+v", p)
	}

	cfg.Responder.Provider = "openai"
	cfg.OpenAIKey = "sk-test"
	p, err = newProvider(context.Background(), cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.responder.Name() != "openai" || p.synth == nil || p.transcriber == nil {
		t.Errorf("openai provider = %+v", p)
	}
}

func TestBackendFallsBackToMock(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend.URL = "http://127.0.0.1:1/api"
	cfg.Backend.Timeout = time.Second
	cfg.Backend.MaxAttempts = 1

	p, err := newProvider(context.Background(), cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.responder.(ai.Mock); !ok {
		t.Errorf("responder = %T, want ai.Mock", p.responder)
	}

	p, err = newProvider(context.Background(), cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if p.responder.Name() != "backend" || p.health == nil {
		t.Errorf("strict provider = %+v", p)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "viva dev\n" {
		t.Errorf("version = %q", got)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "doctor", "serve", "recordings", "version"}
	for _, name := range want {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q missing", name)
		}
	}
	if root.Flags().Lookup("provider") == nil {
		t.Error("bare viva should accept run flags")
	}
}

func TestPrintRecordings(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	printRecordings(cmd, nil)
	if !strings.Contains(out.String(), "No recordings") {
		t.Errorf("empty listing = %q", out.String())
	}

	out.Reset()
	printRecordings(cmd, []store.Recording{{
		ID:        "r1",
		Name:      "interview-2026-03-04T10-20-30-123Z.tar",
		Size:      3 << 20,
		Duration:  90 * time.Second,
		CreatedAt: time.Date(2026, 3, 4, 10, 20, 30, 0, time.UTC),
	}})
	got := out.String()
	for _, s := range []string{"ID", "r1", "interview-2026-03-04T10-20-30-123Z.tar", "1m30s", "3.0 MB"} {
		if !strings.Contains(got, s) {
			t.Errorf("listing missing %q:\n%s", s, got)
		}
	}
}

type failures struct{ errs []error }

func (f *failures) Fail(err error) { f.errs = append(f.errs, err) }

func TestFailOn(t *testing.T) {
	f := &failures{}
	boom := errors.New("address already in use")

	err := failOn(f, "live server", func() error { return boom })()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(f.errs) != 1 || !errors.Is(f.errs[0], boom) {
		t.Fatalf("Fail calls = %v", f.errs)
	}
	if got := f.errs[0].Error(); got != "live server: address already in use" {
		t.Errorf("cause = %q", got)
	}

	failOn(f, "terminal ui", func() error { return nil })()
	failOn(f, "terminal ui", func() error { return context.Canceled })()
	if len(f.errs) != 1 {
		t.Errorf("clean exits failed the session: %v", f.errs)
	}
}
