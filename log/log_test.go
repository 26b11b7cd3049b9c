package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/vivalog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/vivalog" {
		t.Errorf("got %q, want /tmp/vivalog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("VIVA_LOG_PATH", "/tmp/viva-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/viva-env-log" {
		t.Errorf("got %q, want /tmp/viva-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("VIVA_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "viva") {
		t.Errorf("default dir %q should be viva-specific", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "transcript_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTurnWritesTranscript(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Turn("s1", "interviewer", "AI Interviewer", "Tell me about yourself.")
	SessionStart("s1", "mock", 5)
	ResponseMetrics("mock", 120*time.Millisecond, 300, 80, false)

	data, err := os.ReadFile(filepath.Join(tmp, "transcript_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	// format: "2006-01-02 15:04:05\t[pid]\tlabel\ttext\n"
	if !strings.Contains(line, "\tAI Interviewer\tTell me about yourself.\n") {
		t.Errorf("unexpected transcript line: %q", line)
	}

	diag, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"session_start", "ai_response", "turn"} {
		if !strings.Contains(string(diag), want) {
			t.Errorf("diagnostics log missing %q", want)
		}
	}
}

func TestHelpersNoopBeforeInit(t *testing.T) {
	Close()
	Info("dropped")
	Turn("s", "system", "System", "dropped")
	RecordingMetrics(RecordingData{Chunks: 1})
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
