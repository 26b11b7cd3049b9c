package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: VIVA_LOG_PATH environment variable
	if envPath := os.Getenv("VIVA_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Turn appends one transcript line and mirrors it into the diagnostics log.
func Turn(sessionID, speaker, label, text string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("speaker", speaker).
		Int("chars", len(text)).
		Msg("turn")

	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, label, text)
	transcriptFile.WriteString(line)
}

func SessionStart(id, provider string, questions int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("provider", provider).
		Int("questions", questions).
		Msg("session_start")
}

func SessionEnd(id string, turns int, artifact string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", id).
		Int("turns", turns).
		Str("artifact", artifact).
		Msg("session_end")
}

func RecognitionEvent(event string, attempts int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("event", event).
		Int("attempts", attempts).
		Msg("recognition")
}

func ResponseMetrics(provider string, latency time.Duration, promptChars, replyChars int, advanced bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Float64("latency_ms", float64(latency.Microseconds())/1000).
		Int("prompt_chars", promptChars).
		Int("reply_chars", replyChars).
		Bool("advanced", advanced).
		Msg("ai_response")
}

type RequestData struct {
	Method     string
	Path       string
	Status     int
	Attempt    int
	ConnReused bool
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	BodyKB     float64
	Err        error
}

func RequestMetrics(m RequestData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info()
	if m.Err != nil {
		ev = diagLog.Warn().Err(m.Err)
	}
	ev.
		Str("method", m.Method).
		Str("path", m.Path).
		Int("status", m.Status).
		Int("attempt", m.Attempt).
		Str("conn", connStatus).
		Float64("dns_ms", m.DNSMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Float64("body_kb", m.BodyKB).
		Msg("backend_request")
}

type RecordingData struct {
	Chunks        int
	AudioS        float64
	VideoFrames   int
	DroppedFrames int
	SizeKB        float64
	EncodeMs      float64
}

func RecordingMetrics(m RecordingData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("chunks", m.Chunks).
		Float64("audio_s", m.AudioS).
		Int("video_frames", m.VideoFrames).
		Int("dropped_frames", m.DroppedFrames).
		Float64("size_kb", m.SizeKB).
		Float64("encode_ms", m.EncodeMs).
		Msg("recording")
}
