package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"viva/ai"
	"viva/alert"
	"viva/audio"
	"viva/backend"
	"viva/clipboard"
	"viva/config"
	"viva/interview"
	"viva/log"
	"viva/media"
	"viva/playback"
	"viva/recognition"
	"viva/recording"
	"viva/server"
	"viva/shutdown"
	"viva/speaking"
	"viva/store"
	"viva/tts"
	"viva/tui"
)

type runFlags struct {
	provider string
	device   string
	setup    bool
	camera   string
	noTTS    bool
	noRecord bool
	plain    bool
	live     string
	noCopy   bool
	strict   bool
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mock interview (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterview(contextOf(cmd), g, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.provider, "provider", "", "AI provider: backend, openai, gemini or mock")
	fl.StringVar(&f.device, "device", "", "use named microphone device")
	fl.BoolVar(&f.setup, "setup", false, "select microphone device interactively")
	fl.StringVar(&f.camera, "camera", "", "record video from this camera device (\"default\" for the platform camera, requires ffmpeg)")
	fl.BoolVar(&f.noTTS, "no-tts", false, "show interviewer lines without speaking them")
	fl.BoolVar(&f.noRecord, "no-record", false, "do not record the interview")
	fl.BoolVar(&f.plain, "plain", false, "print plain lines instead of the terminal UI")
	fl.StringVar(&f.live, "live", "", "serve the HTTP API and /live feed on this address during the interview")
	fl.BoolVar(&f.noCopy, "no-copy", false, "do not copy the transcript to the clipboard at the end")
	fl.BoolVar(&f.strict, "strict", false, "fail instead of falling back to the mock interviewer when the backend is down")
	return cmd
}

func (f *runFlags) apply(cfg *config.Config) error {
	if f.provider != "" {
		cfg.Responder.Provider = f.provider
	}
	if f.camera != "" {
		cfg.Recording.Camera = f.camera
	}
	if f.noTTS {
		cfg.TTS.Enabled = false
	}
	if f.noRecord {
		cfg.Recording.Enabled = false
	}
	return cfg.Validate()
}

func runInterview(parent context.Context, g *globals, f *runFlags) error {
	cfg, closeLog, err := g.loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if err := f.apply(&cfg); err != nil {
		return err
	}

	ctx, stop := shutdown.Context(parent)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := store.Open(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer actx.Close()

	stream, err := openStream(ctx, actx, cfg, f)
	if err != nil {
		return err
	}
	defer stream.Stop()

	prov, err := newProvider(ctx, cfg, !f.strict)
	if err != nil {
		return err
	}

	var sinks interview.Sinks
	var ui *tui.Program
	if !f.plain && tui.Interactive(os.Stdout) {
		ui = tui.New(cancel)
		sinks = append(sinks, ui)
	} else {
		sinks = append(sinks, tui.NewPlain(os.Stdout))
	}
	var hub *server.Hub
	if f.live != "" {
		hub = server.NewHub()
		defer hub.Close()
		sinks = append(sinks, hub)
	}

	clock := clockwork.NewRealClock()
	system := media.NewSystemAudio()
	player := playback.NewPlayer(nil, system)
	monitor := speaking.NewMonitor()
	alerts := alert.NewOnce(interview.Reporter(sinks))

	var local tts.Voice
	if c, err := tts.FindCommand(); err == nil {
		local = c
	} else {
		log.Warnf("no local speech synthesizer: %v", err)
	}
	speaker := tts.New(tts.Config{
		Enabled: cfg.TTS.Enabled,
		Options: ai.SpeechOptions{Voice: cfg.TTS.Voice, Speed: cfg.TTS.Speed, Model: cfg.TTS.Model},
	}, prov.synth, local, tts.PlayerAdapter{Player: player}, monitor, alerts)

	var recorder interview.Recorder
	if cfg.Recording.Enabled {
		recorder = recording.New(recording.Config{
			Dir:                cfg.Recording.Dir,
			ChunkInterval:      cfg.Recording.ChunkInterval,
			VideoBitsPerSecond: cfg.Recording.VideoBitsPerSecond,
			AudioBitsPerSecond: cfg.Recording.AudioBitsPerSecond,
		}, clock, st, alerts)
	}

	o := interview.New(cfg, interview.Deps{
		Clock:       clock,
		Engine:      newEngine(cfg, stream),
		Monitor:     monitor,
		Speaker:     speaker,
		Responder:   prov.responder,
		Transcriber: prov.transcriber,
		Health:      prov.health,
		Recorder:    recorder,
		System:      system,
		Store:       st,
		Sink:        sinks,
		Alerts:      alerts,
	})

	eg, ectx := errgroup.WithContext(ctx)
	if ui != nil {
		eg.Go(failOn(o, "terminal ui", func() error {
			defer cancel()
			return ui.Run()
		}))
	}
	if hub != nil {
		handler := server.NewHandler(server.Deps{Store: st, Hub: hub, Health: prov.health, Version: version})
		eg.Go(failOn(o, "live server", func() error {
			return server.Serve(ectx, f.live, handler)
		}))
	}

	if err := o.Start(ectx, stream); err != nil {
		player.Chime(playback.ChimeError)
		cancel()
		if ui != nil {
			ui.Quit()
		}
		_ = eg.Wait()
		return fmt.Errorf("start interview: %w", err)
	}
	player.Chime(playback.ChimeStart)

	eg.Go(func() error {
		defer cancel()
		if ui != nil {
			defer ui.Quit()
		}
		if err := o.Run(ectx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	runErr := eg.Wait()

	_ = player.PlayChime(context.Background(), playback.ChimeEnd)
	summarize(o, f.noCopy)
	return runErr
}

type failer interface {
	Fail(err error)
}

// failOn wraps a session companion so that its error, other than
// cancellation, fails the running session.
func failOn(o failer, what string, fn func() error) func() error {
	return func() error {
		err := fn()
		if err != nil && !errors.Is(err, context.Canceled) {
			o.Fail(fmt.Errorf("%s: %w", what, err))
		}
		return err
	}
}

func summarize(o *interview.Orchestrator, noCopy bool) {
	sess := o.Session()
	turns := o.Transcript()
	if sess.Failure != "" {
		fmt.Printf("Interview %s failed after %d turns: %s\n", sess.ID, len(turns), sess.Failure)
	} else {
		fmt.Printf("Interview %s ended with %d turns.\n", sess.ID, len(turns))
	}
	if sess.Artifact != nil {
		fmt.Printf("Recording saved to %s\n", sess.Artifact.Path)
	}
	if noCopy || len(turns) == 0 {
		return
	}
	if err := clipboard.CopyTranscript(turns); err != nil {
		log.Warnf("transcript not copied: %v", err)
		return
	}
	fmt.Println("Transcript copied to clipboard.")
}

// openStream opens the microphone, plus the camera when recording video.
// A camera that cannot be opened leaves an audio-only stream.
func openStream(ctx context.Context, actx audio.Context, cfg config.Config, f *runFlags) (*media.Stream, error) {
	var dev *audio.DeviceInfo
	switch {
	case f.device != "":
		d, err := audio.FindDevice(actx, f.device)
		if err != nil {
			return nil, err
		}
		dev = d
	case f.setup:
		d, err := selectDevice(actx, os.Stdin, os.Stdout)
		if err != nil {
			return nil, err
		}
		dev = d
	}

	capture, err := actx.NewCapture(dev, audio.DefaultCaptureConfig())
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	tracks := []media.Track{media.NewAudioTrack(capture)}

	if cfg.Recording.Enabled && cfg.Recording.Camera != "" {
		device := cfg.Recording.Camera
		if device == "default" {
			device = ""
		}
		cam, err := media.OpenCamera(ctx, device)
		if err != nil {
			log.Warnf("camera not opened: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: camera unavailable, recording audio only: %v\n", err)
		} else {
			tracks = append(tracks, media.NewVideoTrack(cam))
		}
	}

	stream := media.NewStream(tracks...)
	if err := stream.Start(); err != nil {
		stream.Stop()
		capture.Close()
		return nil, err
	}
	return stream, nil
}

// newEngine streams the microphone to Deepgram. Without a key the engine
// reports itself unsupported and the interview runs without recognition.
func newEngine(cfg config.Config, stream *media.Stream) recognition.Engine {
	var dial recognition.Dialer
	if cfg.DeepgramKey != "" {
		dial = recognition.NewDeepgram(cfg.DeepgramKey, "").Dial
	}
	return recognition.NewStreamEngine(dial, stream.Microphone())
}

type provider struct {
	responder   ai.Responder
	synth       ai.Synthesizer
	transcriber ai.Transcriber
	health      interview.HealthChecker
}

// newProvider builds the configured AI provider. With fallback set, an
// unreachable backend is replaced by the mock interviewer.
func newProvider(ctx context.Context, cfg config.Config, fallback bool) (provider, error) {
	switch cfg.Responder.Provider {
	case "mock":
		return provider{responder: ai.Mock{}}, nil
	case "openai":
		c := ai.NewOpenAI(cfg.OpenAIKey, "")
		return provider{responder: c, synth: c, transcriber: c}, nil
	case "gemini":
		gm, err := ai.NewGemini(ctx, cfg.GeminiKey, "")
		if err != nil {
			return provider{}, fmt.Errorf("gemini: %w", err)
		}
		p := provider{responder: gm}
		if cfg.OpenAIKey != "" {
			c := ai.NewOpenAI(cfg.OpenAIKey, "")
			p.synth, p.transcriber = c, c
		}
		return p, nil
	}

	c := newBackend(cfg)
	if fallback {
		hctx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
		defer cancel()
		if err := c.CheckHealth(hctx); err != nil {
			log.Warnf("backend %s unavailable, using the mock interviewer: %v", c.URL(), err)
			fmt.Fprintf(os.Stderr, "Warning: backend unavailable (%v); continuing with the mock interviewer\n", err)
			return provider{responder: ai.Mock{}}, nil
		}
	}
	return provider{responder: c, synth: c, transcriber: c, health: c}, nil
}

func newBackend(cfg config.Config) *backend.Client {
	return backend.New(backend.Config{
		URL:          cfg.Backend.URL,
		Timeout:      cfg.Backend.Timeout,
		MaxAttempts:  cfg.Backend.MaxAttempts,
		InitialDelay: cfg.Backend.InitialDelay,
		MaxDelay:     cfg.Backend.MaxDelay,
	})
}
