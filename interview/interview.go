// Package interview runs one mock-interview session: it owns the session
// lifecycle and serializes recognizer, segmenter and responder events
// through a single loop.
package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"viva/ai"
	"viva/alert"
	"viva/config"
	"viva/conversation"
	"viva/log"
	"viva/media"
	"viva/questions"
	"viva/recognition"
	"viva/recording"
	"viva/responder"
	"viva/segmenter"
	"viva/speaking"
	"viva/store"
)

var (
	ErrNoMedia            = errors.New("no media stream")
	ErrBackendUnavailable = errors.New("AI backend unavailable")
	ErrAlreadyStarted     = errors.New("interview already started")
	ErrNotStarted         = errors.New("interview not started")
)

const (
	RecordingStartedLine = "Interview recording started. Speak clearly into your microphone."
	NoRecordingLine      = "Interview started. Recording is unavailable for this session."
	FullTranscriptLabel  = "Complete Interview Transcript"

	maxQueued = 8
)

type Status int

const (
	NotStarted Status = iota
	Running
	Ended
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Ended:
		return "ended"
	}
	return "not_started"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "running":
		*s = Running
	case "ended":
		*s = Ended
	case "not_started":
		*s = NotStarted
	default:
		return fmt.Errorf("unknown session status %q", b)
	}
	return nil
}

// Session is a point-in-time view of the interview.
type Session struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	QuestionIndex  int               `json:"question_index"`
	Questions      int               `json:"questions"`
	Question       string            `json:"question"`
	CodingRevealed bool              `json:"coding_revealed"`
	CodingQuestion string            `json:"coding_question,omitempty"`
	Processing     bool              `json:"processing"`
	Speaking       bool              `json:"speaking"`
	Listening      recognition.State `json:"listening"`
	Recording      bool              `json:"recording"`
	Artifact       *recording.Ref    `json:"artifact,omitempty"`
	Failure        string            `json:"failure,omitempty"`
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Recorder is satisfied by *recording.Coordinator.
type Recorder interface {
	Start(stream *media.Stream, system *media.SystemAudio) error
	Stop() (*recording.Artifact, error)
	Persist(ctx context.Context, sessionID string, a *recording.Artifact) (recording.Ref, error)
	Cleanup()
	Recording() bool
}

// Store is satisfied by *store.Store.
type Store interface {
	CreateSession(ctx context.Context, s store.Session) error
	EndSession(ctx context.Context, id string, status store.Status, endedAt time.Time) error
	AttachRecording(ctx context.Context, sessionID, recordingID string) error
	AddTurn(ctx context.Context, sessionID string, t conversation.Turn) error
}

// Deps are the collaborators of an Orchestrator. Engine, Speaker and
// Responder are required; the rest may be nil.
type Deps struct {
	Clock       clockwork.Clock
	Engine      recognition.Engine
	Monitor     *speaking.Monitor
	Speaker     Speaker
	Responder   ai.Responder
	Transcriber ai.Transcriber
	Health      HealthChecker
	Recorder    Recorder
	System      *media.SystemAudio
	Store       Store
	Sink        EventSink
	Alerts      *alert.Once
}

type completion struct {
	text string
	err  error
}

// Orchestrator runs a single interview. It is not reusable after End.
type Orchestrator struct {
	cfg  config.Config
	deps Deps

	clock      clockwork.Clock
	monitor    *speaking.Monitor
	sink       EventSink
	alerts     *alert.Once
	window     *conversation.Window
	transcript *conversation.Log
	seg        *segmenter.Segmenter
	sup        *recognition.Supervisor
	seq        *questions.Sequencer
	coord      *responder.Coordinator

	mu         sync.Mutex
	session    Session
	ctx        context.Context
	cancel     context.CancelFunc
	persistCtx context.Context
	done       chan struct{}

	snapMu    sync.Mutex
	snap      recognition.Snapshot
	snapReady chan struct{}

	utterances  chan string
	completions chan completion
	wg          sync.WaitGroup

	// owned by Run
	inflight bool
	queue    []string
	last     Session
}

func New(cfg config.Config, d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Monitor == nil {
		d.Monitor = speaking.NewMonitor()
	}
	if d.Sink == nil {
		d.Sink = nopSink{}
	}
	if d.Alerts == nil {
		d.Alerts = alert.NewOnce(Reporter(d.Sink))
	}

	o := &Orchestrator{
		cfg:         cfg,
		deps:        d,
		clock:       d.Clock,
		monitor:     d.Monitor,
		sink:        d.Sink,
		alerts:      d.Alerts,
		window:      conversation.NewWindow(cfg.Responder.ContextWindow),
		transcript:  conversation.NewLog(),
		done:        make(chan struct{}),
		snapReady:   make(chan struct{}, 1),
		utterances:  make(chan string, maxQueued),
		completions: make(chan completion, 1),
		ctx:         context.Background(),
		persistCtx:  context.Background(),
	}
	o.session.QuestionIndex = -1

	o.seg = segmenter.New(o.clock, segmenter.Config{
		Debounce: cfg.Segmenter.Debounce,
		Silence:  cfg.Segmenter.Silence,
		MinChars: cfg.Segmenter.MinChars,
	}, segmenter.Hooks{
		Emit:     o.onUtterance,
		Restart:  func() { o.sup.Restart(o.sessionCtx()) },
		Speaking: o.monitor.IsSpeaking,
	})

	o.sup = recognition.NewSupervisor(d.Engine, o.monitor, o.clock, recognition.Config{
		Throttle:         cfg.Timing.StartThrottle,
		BackoffBase:      cfg.Timing.BackoffBase,
		BackoffMax:       cfg.Timing.BackoffMax,
		RestartDelay:     cfg.Timing.RestartDelay,
		MaxStartAttempts: cfg.Timing.MaxStartAttempts,
		Options:          recognition.Options{Continuous: true, Language: cfg.Language},
	}, o.alerts)
	o.sup.OnReset = o.onRecognitionReset

	o.seq = questions.New(o.clock, questions.Config{
		Main:        cfg.Questions.Main,
		Coding:      cfg.Questions.Coding,
		CodingAfter: cfg.Questions.CodingAfter,
		RevealDelay: cfg.Questions.RevealDelay,
		Transition:  cfg.Questions.Transition,
		Closing:     cfg.Questions.Closing,
	}, o.transcript, d.Speaker)
	o.seq.OnQuestion = func(int, string) { o.publish() }
	o.seq.OnReveal = func(string) { o.publish() }

	o.coord = responder.New(responder.Config{
		MinTokens: cfg.Responder.MinTokens,
		Options: ai.ResponseOptions{
			Model:        cfg.Responder.Model,
			Temperature:  float32(cfg.Responder.Temperature),
			MaxTokens:    cfg.Responder.MaxTokens,
			SystemPrompt: cfg.Responder.SystemPrompt,
		},
		AdvancePhrases:     cfg.Responder.AdvancePhrases,
		AdvanceAfterCoding: cfg.Responder.AdvanceAfterCoding,
	}, d.Responder, o.window, o.transcript, d.Speaker, o.clock, o.alerts, responder.Hooks{
		Advance:        func(ctx context.Context) { o.seq.Advance(ctx) },
		CodingRevealed: o.seq.Revealed,
		Processing:     func(bool) { o.publish() },
	})

	o.transcript.OnAppend(o.record)
	return o
}

// Start opens the session. Only a missing stream or an unhealthy backend
// fail it; recording and recognition problems surface as alerts.
func (o *Orchestrator) Start(ctx context.Context, stream *media.Stream) error {
	if stream == nil {
		return ErrNoMedia
	}
	o.mu.Lock()
	if o.session.Status != NotStarted {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.mu.Unlock()

	if o.deps.Health != nil {
		if err := o.deps.Health.CheckHealth(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	id := uuid.NewString()
	now := o.clock.Now()
	persistCtx := context.WithoutCancel(ctx)
	if o.deps.Store != nil {
		err := o.deps.Store.CreateSession(persistCtx, store.Session{
			ID:            id,
			StartedAt:     now,
			Status:        store.StatusRunning,
			Provider:      o.deps.Responder.Name(),
			QuestionCount: len(o.cfg.Questions.Main),
		})
		if err != nil {
			log.Warnf("interview: session %s not stored: %v", id, err)
		}
	}

	o.window.Reset()
	o.seg.Reset()
	o.seq.Reset()

	sessCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.session.ID = id
	o.session.Status = Running
	o.session.StartedAt = now
	o.ctx, o.cancel, o.persistCtx = sessCtx, cancel, persistCtx
	o.mu.Unlock()
	log.SessionStart(id, o.deps.Responder.Name(), len(o.cfg.Questions.Main))

	line := NoRecordingLine
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Start(stream, o.deps.System); err != nil {
			log.Warnf("interview: recording not started: %v", err)
		} else {
			line = RecordingStartedLine
		}
	}
	o.transcript.Append(conversation.NewTurn(conversation.System, line, o.clock.Now()))
	o.publish()

	o.deps.Engine.SetHandler(o.onSnapshot)
	o.sup.Activate()
	o.sup.ScheduleStart(sessCtx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.seq.Begin(sessCtx)
	}()
	return nil
}

// Run consumes session events until the session ends or ctx is done.
// Cancelling ctx ends the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	status := o.session.Status
	o.mu.Unlock()
	if status == NotStarted {
		return ErrNotStarted
	}

	turn := o.clock.NewTicker(o.cfg.Timing.TurnPoll)
	defer turn.Stop()
	watchdog := o.clock.NewTicker(o.cfg.Timing.Watchdog)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			o.End(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-o.done:
			return nil
		case <-o.snapReady:
			o.applySnapshot()
		case text := <-o.utterances:
			o.handleUtterance(text)
		case c := <-o.completions:
			o.handleCompletion(c)
		case <-turn.Chan():
			o.sup.SyncTurn(o.sessionCtx())
			o.publishIfChanged()
		case <-watchdog.Chan():
			o.sup.Watchdog(o.sessionCtx(), o.coord.Processing())
		}
	}
}

func (o *Orchestrator) onSnapshot(s recognition.Snapshot) {
	o.snapMu.Lock()
	o.snap = s
	o.snapMu.Unlock()
	select {
	case o.snapReady <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) applySnapshot() {
	o.snapMu.Lock()
	s := o.snap
	o.snapMu.Unlock()

	o.seg.Update(s.Transcript, s.Listening)
	o.sup.Observe(s.Listening)
	o.sink.Partial(o.seg.Pending())
	o.publishIfChanged()
}

// onRecognitionReset hands the words heard before a restart to the
// segmenter, then clears it so the emptied engine transcript starts a fresh
// buffer.
func (o *Orchestrator) onRecognitionReset() {
	o.snapMu.Lock()
	s := o.snap
	o.snapMu.Unlock()

	o.seg.Update(s.Transcript, s.Listening)
	o.seg.Flush()
	o.seg.Reset()
	o.sink.Partial("")
}

// onUtterance runs on the segmenter's timer goroutine, or on the Run loop
// when a watchdog restart flushes the segmenter.
func (o *Orchestrator) onUtterance(text string) {
	select {
	case o.utterances <- text:
	case <-o.done:
	}
}

func (o *Orchestrator) handleUtterance(text string) {
	o.transcript.Append(conversation.NewTurn(conversation.Candidate, text, o.clock.Now()))
	if o.inflight {
		if len(o.queue) >= maxQueued {
			log.Warnf("interview: dropping queued utterance %q", o.queue[0])
			o.queue = o.queue[1:]
		}
		o.queue = append(o.queue, text)
		return
	}
	o.dispatch(text)
}

func (o *Orchestrator) dispatch(text string) {
	o.inflight = true
	_, q := o.seq.Current()
	ctx := o.sessionCtx()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, err := o.coord.ProcessUtterance(ctx, text, q)
		select {
		case o.completions <- completion{text: text, err: err}:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) handleCompletion(c completion) {
	o.inflight = false
	switch {
	case errors.Is(c.err, responder.ErrBusy):
		o.queue = append([]string{c.text}, o.queue...)
	case c.err != nil && !errors.Is(c.err, responder.ErrTooShort) && !errors.Is(c.err, context.Canceled):
		log.Warnf("interview: %v", c.err)
	}
	if len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.dispatch(next)
	}
}

// End finishes the session and persists what it captured. It is safe to
// call more than once and from any goroutine except the session's own
// hooks.
func (o *Orchestrator) End(ctx context.Context) error {
	return o.finish(ctx, store.StatusEnded, nil)
}

// Fail ends the session after an unrecoverable error.
func (o *Orchestrator) Fail(err error) {
	log.Errorf("interview failed: %v", err)
	o.finish(o.persist(), store.StatusFailed, err)
}

func (o *Orchestrator) finish(ctx context.Context, status store.Status, cause error) error {
	o.mu.Lock()
	if o.session.Status != Running {
		o.mu.Unlock()
		return nil
	}
	o.session.Status = Ended
	if cause != nil {
		o.session.Failure = cause.Error()
	}
	id, cancel := o.session.ID, o.cancel
	o.mu.Unlock()

	o.sup.Deactivate()
	if err := o.sup.StopListening(); err != nil {
		log.Warnf("interview: %v", err)
	}
	o.seg.Reset()
	o.monitor.StopActive()
	cancel()
	close(o.done)
	o.wg.Wait()
	o.seq.Reset()
	o.window.Reset()

	artifact := o.finishRecording(ctx, id)

	if o.deps.Store != nil {
		if err := o.deps.Store.EndSession(ctx, id, status, o.clock.Now()); err != nil {
			log.Warnf("interview: closing session %s: %v", id, err)
		}
	}
	path := ""
	if artifact != nil {
		path = artifact.Path
	}
	log.SessionEnd(id, o.transcript.Len(), path)
	o.publish()
	return nil
}

// finishRecording stops, persists and optionally transcribes the
// recording. It always releases the media stream.
func (o *Orchestrator) finishRecording(ctx context.Context, id string) *recording.Ref {
	rec := o.deps.Recorder
	if rec == nil {
		return nil
	}
	defer rec.Cleanup()

	a, err := rec.Stop()
	if err != nil {
		if !errors.Is(err, recording.ErrNotRecording) {
			o.alerts.ReportOnce("recording-finalize", alert.Alert{
				Kind:    alert.Recording,
				Message: "The interview recording could not be finalized",
				Err:     err,
			})
		}
		return nil
	}
	ref, err := rec.Persist(ctx, id, a)
	if err != nil {
		o.alerts.ReportOnce("recording-save", alert.Alert{
			Kind:    alert.Recording,
			Message: "The interview recording could not be saved",
			Err:     err,
		})
		return nil
	}
	o.mu.Lock()
	o.session.Artifact = &ref
	o.mu.Unlock()
	if o.deps.Store != nil {
		if err := o.deps.Store.AttachRecording(ctx, id, ref.ID); err != nil {
			log.Warnf("interview: attaching recording: %v", err)
		}
	}
	o.transcribe(ctx, a)
	return &ref
}

func (o *Orchestrator) transcribe(ctx context.Context, a *recording.Artifact) {
	if !o.cfg.Recording.TranscribeOnEnd || o.deps.Transcriber == nil || len(a.Audio) == 0 {
		return
	}
	text, err := o.deps.Transcriber.Transcribe(ctx, a.Audio, "audio/flac", ai.TranscribeOptions{Language: o.cfg.Language})
	if err != nil {
		log.Warnf("interview: transcribing recording: %v", err)
		return
	}
	if text == "" {
		return
	}
	o.transcript.Append(conversation.Turn{
		Speaker:    conversation.System,
		Label:      FullTranscriptLabel,
		Text:       text,
		OccurredAt: o.clock.Now(),
	})
}

// record persists and forwards each transcript turn.
func (o *Orchestrator) record(t conversation.Turn) {
	o.mu.Lock()
	id, ctx := o.session.ID, o.persistCtx
	o.mu.Unlock()

	log.Turn(id, t.Speaker.String(), t.Label, t.Text)
	if o.deps.Store != nil && id != "" {
		if err := o.deps.Store.AddTurn(ctx, id, t); err != nil {
			log.Warnf("interview: storing turn: %v", err)
		}
	}
	o.sink.Turn(t)
}

func (o *Orchestrator) sessionCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

func (o *Orchestrator) persist() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persistCtx
}

// Session returns the current view of the interview.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()

	if s.Status == Running {
		s.QuestionIndex, s.Question = o.seq.Current()
		s.CodingRevealed = o.seq.Revealed()
		s.CodingQuestion = o.seq.CodingQuestion()
	}
	s.Questions = o.seq.Total()
	s.Processing = o.coord.Processing()
	s.Speaking = o.monitor.IsSpeaking()
	s.Listening = o.sup.State()
	s.Recording = o.deps.Recorder != nil && o.deps.Recorder.Recording()
	return s
}

// Transcript returns every turn logged so far.
func (o *Orchestrator) Transcript() []conversation.Turn {
	return o.transcript.Turns()
}

func (o *Orchestrator) TranscriptText() string {
	return o.transcript.Text()
}

func (o *Orchestrator) publish() {
	o.sink.Status(o.Session())
}

// publishIfChanged reports flags that only change through polling.
func (o *Orchestrator) publishIfChanged() {
	s := o.Session()
	if s.Speaking == o.last.Speaking && s.Listening == o.last.Listening && s.Recording == o.last.Recording {
		return
	}
	o.last = s
	o.sink.Status(s)
}
