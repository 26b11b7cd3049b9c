// Package doctor checks that everything an interview needs is in place.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fatih/color"

	"viva/audio"
	"viva/config"
	"viva/interview"
	"viva/store"
)

type result int

const (
	pass result = iota
	warn
	fail
)

// Deps are the environment the checks probe. Nil fields fall back to the
// real system.
type Deps struct {
	Config    config.Config
	ConfigErr error
	Health    interview.HealthChecker
	Audio     func() (audio.Context, error)
	Chime     func() error
	LookPath  func(file string) (string, error)
	Out       io.Writer

	MicDuration time.Duration
}

type check struct {
	name string
	run  func(ctx context.Context, d Deps) (result, string)
}

var checks = []check{
	{"Configuration", checkConfig},
	{"AI responder", checkResponder},
	{"Speech recognition", checkRecognition},
	{"Microphone", checkMicrophone},
	{"Playback", checkPlayback},
	{"Storage", checkStorage},
	{"Camera support (ffmpeg)", checkFFmpeg},
}

var (
	passColor = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// Run executes every check in order and returns an exit code: 0 when
// nothing failed, 1 otherwise. Warnings do not fail the run.
func Run(ctx context.Context, d Deps) int {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Audio == nil {
		d.Audio = audio.NewContext
	}
	if d.LookPath == nil {
		d.LookPath = exec.LookPath
	}
	if d.MicDuration <= 0 {
		d.MicDuration = time.Second
	}

	fmt.Fprintln(d.Out, "viva doctor - system diagnostics")
	fmt.Fprintln(d.Out, "================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintln(d.Out)
		fmt.Fprintf(d.Out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		res, detail := c.run(ctx, d)
		switch res {
		case pass:
			fmt.Fprintf(d.Out, "  %s %s\n", passColor.Sprint("PASS:"), detail)
		case warn:
			fmt.Fprintf(d.Out, "  %s %s\n", warnColor.Sprint("WARN:"), detail)
		default:
			fmt.Fprintf(d.Out, "  %s %s\n", failColor.Sprint("FAIL:"), detail)
			failed++
		}
	}

	fmt.Fprintln(d.Out)
	if failed == 0 {
		fmt.Fprintln(d.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintf(d.Out, "%d check(s) failed. See details above.\n", failed)
	return 1
}

func checkConfig(_ context.Context, d Deps) (result, string) {
	if d.ConfigErr != nil {
		return fail, d.ConfigErr.Error()
	}
	c := d.Config
	return pass, fmt.Sprintf("provider %s, %d questions, %d coding challenges",
		c.Responder.Provider, len(c.Questions.Main), len(c.Questions.Coding))
}

func checkResponder(ctx context.Context, d Deps) (result, string) {
	c := d.Config
	switch c.Responder.Provider {
	case "mock":
		return warn, "mock responder selected; replies are canned"
	case "openai":
		if c.OpenAIKey == "" {
			return fail, "OPENAI_API_KEY is not set"
		}
		return pass, "OpenAI key present"
	case "gemini":
		if c.GeminiKey == "" {
			return fail, "GEMINI_API_KEY is not set"
		}
		return pass, "Gemini key present"
	}
	if d.Health == nil {
		return fail, "no backend configured"
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Health.CheckHealth(hctx); err != nil {
		return fail, fmt.Sprintf("backend %s: %v", c.Backend.URL, err)
	}
	return pass, "backend " + c.Backend.URL + " is healthy"
}

func checkRecognition(_ context.Context, d Deps) (result, string) {
	if d.Config.DeepgramKey == "" {
		return warn, "DEEPGRAM_API_KEY is not set; the interview will run without speech recognition"
	}
	return pass, "Deepgram key present"
}

func checkMicrophone(ctx context.Context, d Deps) (result, string) {
	actx, err := d.Audio()
	if err != nil {
		return fail, fmt.Sprintf("cannot connect to audio: %v", err)
	}
	defer actx.Close()

	capture, err := actx.NewCapture(nil, audio.DefaultCaptureConfig())
	if err != nil {
		return fail, fmt.Sprintf("cannot open microphone: %v", err)
	}
	defer capture.Close()

	var mu sync.Mutex
	var pcm []byte
	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		pcm = append(pcm, data...)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return fail, fmt.Sprintf("cannot start capture: %v", err)
	}
	select {
	case <-time.After(d.MicDuration):
	case <-ctx.Done():
	}
	capture.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(pcm) == 0 {
		return fail, "no audio captured from " + capture.DeviceName()
	}
	level := audio.Level(pcm)
	detail := fmt.Sprintf("%s, %.1f KB captured, level %.3f", capture.DeviceName(), float64(len(pcm))/1024, level)
	if level < 0.002 {
		return warn, detail + " (very quiet, is the microphone muted?)"
	}
	return pass, detail
}

func checkPlayback(_ context.Context, d Deps) (result, string) {
	if !d.Config.TTS.Enabled {
		return warn, "text-to-speech disabled; questions will only be shown"
	}
	if d.Chime == nil {
		return warn, "playback not tested"
	}
	if err := d.Chime(); err != nil {
		return fail, fmt.Sprintf("cannot play audio: %v", err)
	}
	return pass, "chime played"
}

func checkStorage(ctx context.Context, d Deps) (result, string) {
	c := d.Config
	st, err := store.Open(ctx, c.DataDir)
	if err != nil {
		return fail, err.Error()
	}
	st.Close()

	if err := os.MkdirAll(c.Recording.Dir, 0o755); err != nil {
		return fail, fmt.Sprintf("recordings directory: %v", err)
	}
	f, err := os.CreateTemp(c.Recording.Dir, ".viva-doctor-*")
	if err != nil {
		return fail, fmt.Sprintf("recordings directory not writable: %v", err)
	}
	f.Close()
	os.Remove(f.Name())
	return pass, "database and " + c.Recording.Dir + " are writable"
}

func checkFFmpeg(_ context.Context, d Deps) (result, string) {
	path, err := d.LookPath("ffmpeg")
	if errors.Is(err, exec.ErrNotFound) || (err != nil && path == "") {
		return warn, "ffmpeg not found; recordings will be audio-only"
	}
	return pass, path
}
