package interview

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viva/ai"
	"viva/alert"
	"viva/audio"
	"viva/config"
	"viva/conversation"
	"viva/media"
	"viva/recognition"
	"viva/recording"
	"viva/speaking"
	"viva/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	step    = 100 * time.Millisecond
)

type noStop struct{}

func (noStop) Stop() {}

type fakeSpeaker struct {
	monitor *speaking.Monitor

	mu     sync.Mutex
	spoken []string
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.monitor.MarkSpeakingStart(noStop{})
	defer f.monitor.MarkSpeakingEnd()
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSpeaker) said(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.spoken {
		if s == text {
			return true
		}
	}
	return false
}

type fakeResponder struct {
	reply string
	gate  chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (f *fakeResponder) Name() string { return "fake" }

func (f *fakeResponder) GenerateResponse(ctx context.Context, transcript, _ string, _ ai.ResponseOptions) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, transcript)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, nil
}

func (f *fakeResponder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeHealth struct{ err error }

func (f fakeHealth) CheckHealth(context.Context) error { return f.err }

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(context.Context, []byte, string, ai.TranscribeOptions) (string, error) {
	return f.text, nil
}

type memSink struct {
	mu     sync.Mutex
	turns  []conversation.Turn
	status []Session
	alerts []alert.Alert
}

func (m *memSink) Status(s Session) {
	m.mu.Lock()
	m.status = append(m.status, s)
	m.mu.Unlock()
}

func (m *memSink) Turn(t conversation.Turn) {
	m.mu.Lock()
	m.turns = append(m.turns, t)
	m.mu.Unlock()
}

func (m *memSink) Partial(string) {}

func (m *memSink) Alert(a alert.Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
}

func (m *memSink) turnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

type fixture struct {
	t         *testing.T
	cfg       config.Config
	clock     *clockwork.FakeClock
	engine    *recognition.FakeEngine
	monitor   *speaking.Monitor
	speaker   *fakeSpeaker
	responder *fakeResponder
	store     *store.Store
	sink      *memSink
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Defaults()
	cfg.Recording.TranscribeOnEnd = false

	f := &fixture{
		t:         t,
		cfg:       cfg,
		clock:     clockwork.NewFakeClock(),
		engine:    recognition.NewFakeEngine(),
		monitor:   speaking.NewMonitor(),
		responder: &fakeResponder{reply: "Thanks for sharing. Let's move on to the next question."},
		store:     st,
		sink:      &memSink{},
	}
	f.speaker = &fakeSpeaker{monitor: f.monitor}
	f.deps = Deps{
		Clock:     f.clock,
		Engine:    f.engine,
		Monitor:   f.monitor,
		Speaker:   f.speaker,
		Responder: f.responder,
		Store:     st,
		Sink:      f.sink,
	}
	return f
}

func micStream(samples int) *media.Stream {
	return media.NewStream(media.NewAudioTrack(audio.NewFakeCapture(make([]byte, samples*2), false)))
}

// run starts the session loop and returns a channel carrying its result.
func (f *fixture) run(o *Orchestrator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	return done
}

// advanceUntil moves the fake clock forward in small steps until cond holds.
func (f *fixture) advanceUntil(cond func() bool, msg string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		if cond() {
			return true
		}
		f.clock.Advance(step)
		return false
	}, waitFor, tick, msg)
}

func (f *fixture) listening() bool {
	starts, _, _ := f.engine.Counts()
	return starts > 0 && f.engine.Listening()
}

func TestStartGates(t *testing.T) {
	f := newFixture(t)
	o := New(f.cfg, f.deps)
	assert.ErrorIs(t, o.Start(context.Background(), nil), ErrNoMedia)

	f.deps.Health = fakeHealth{err: errors.New("api key missing")}
	o = New(f.cfg, f.deps)
	err := o.Start(context.Background(), micStream(0))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, NotStarted, o.Session().Status)
	assert.ErrorIs(t, o.Run(context.Background()), ErrNotStarted)

	sessions, err := f.store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestInterviewFlow(t *testing.T) {
	f := newFixture(t)
	f.deps.Health = fakeHealth{}
	o := New(f.cfg, f.deps)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, micStream(0)))
	assert.ErrorIs(t, o.Start(ctx, micStream(0)), ErrAlreadyStarted)
	done := f.run(o)

	q := f.cfg.Questions.Main
	require.Eventually(t, func() bool { return f.speaker.said(q[0]) }, waitFor, tick)
	f.advanceUntil(f.listening, "recognition should start after the backoff delay")

	f.engine.Say("I have been writing Go services for five years")
	f.advanceUntil(func() bool { return f.speaker.said(q[1]) }, "reply should advance to the next question")

	calls := f.responder.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "Candidate: I have been writing Go services for five years")
	assert.Contains(t, calls[0], q[0])

	s := o.Session()
	assert.Equal(t, Running, s.Status)
	assert.Equal(t, 1, s.QuestionIndex)
	assert.Equal(t, q[1], s.Question)

	require.NoError(t, o.End(ctx))
	require.NoError(t, o.End(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after End")
	}

	assert.Equal(t, Ended, o.Session().Status)
	assert.False(t, f.engine.Listening())

	want := []conversation.Speaker{
		conversation.System,
		conversation.Interviewer,
		conversation.Candidate,
		conversation.Interviewer,
		conversation.Interviewer,
	}
	turns := o.Transcript()
	require.Len(t, turns, len(want))
	for i, sp := range want {
		assert.Equal(t, sp, turns[i].Speaker, "turn %d", i)
	}
	assert.Equal(t, NoRecordingLine, turns[0].Text)

	row, err := f.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, row.Status)
	assert.Equal(t, len(want), row.TurnCount)
	assert.Equal(t, "fake", row.Provider)

	stored, err := f.store.Turns(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, stored, len(want))
	assert.Equal(t, len(want), f.sink.turnCount())
}

func TestUtterancesQueueWhileProcessing(t *testing.T) {
	f := newFixture(t)
	f.responder.reply = "Interesting. Tell me more."
	f.responder.gate = make(chan struct{})
	o := New(f.cfg, f.deps)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, micStream(0)))
	done := f.run(o)
	f.advanceUntil(f.listening, "recognition should start")

	f.engine.Say("my first answer is about caching")
	f.advanceUntil(func() bool { return len(f.responder.calls()) == 1 }, "first utterance dispatched")
	assert.True(t, o.Session().Processing)

	f.engine.Say("and my second answer is about queues")
	f.advanceUntil(func() bool {
		n := 0
		for _, turn := range o.Transcript() {
			if turn.Speaker == conversation.Candidate {
				n++
			}
		}
		return n == 2
	}, "second utterance logged")
	assert.Len(t, f.responder.calls(), 1, "second utterance must wait for the first")

	f.responder.gate <- struct{}{}
	require.Eventually(t, func() bool { return len(f.responder.calls()) == 2 }, waitFor, tick)
	calls := f.responder.calls()
	assert.True(t, strings.HasSuffix(calls[1], "Candidate: and my second answer is about queues"))

	f.responder.gate <- struct{}{}
	require.Eventually(t, func() bool { return !o.Session().Processing }, waitFor, tick)

	require.NoError(t, o.End(ctx))
	<-done
}

func TestRestartKeepsPendingWords(t *testing.T) {
	f := newFixture(t)
	o := New(f.cfg, f.deps)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, micStream(0)))
	done := f.run(o)
	f.advanceUntil(f.listening, "recognition should start")

	answer := "I scaled the search cluster twice"
	f.engine.Say(answer)
	require.Eventually(t, func() bool { return o.seg.Pending() == answer }, waitFor, tick)

	candidate := func() []string {
		var out []string
		for _, turn := range o.Transcript() {
			if turn.Speaker == conversation.Candidate {
				out = append(out, turn.Text)
			}
		}
		return out
	}

	// no clock movement: the restart itself hands the words over
	o.sup.Restart(ctx)
	require.Eventually(t, func() bool { return len(candidate()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{answer}, candidate())
	assert.Equal(t, "", o.seg.Pending())

	f.advanceUntil(f.listening, "recognition should resume after the restart delay")
	f.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return len(candidate()) != 1 }, 50*time.Millisecond, tick)
	require.Eventually(t, func() bool { return len(f.responder.calls()) == 1 }, waitFor, tick)

	require.NoError(t, o.End(ctx))
	<-done
}

func TestEndPersistsRecording(t *testing.T) {
	f := newFixture(t)
	f.cfg.Recording.TranscribeOnEnd = true
	f.cfg.Recording.Dir = t.TempDir()
	rec := recording.New(recording.Config{Dir: f.cfg.Recording.Dir, ChunkInterval: 500 * time.Millisecond}, f.clock, f.store, nil)
	f.deps.Recorder = rec
	f.deps.System = media.NewSystemAudio()
	f.deps.Transcriber = fakeTranscriber{text: "the whole interview"}
	o := New(f.cfg, f.deps)
	ctx := context.Background()

	capture := audio.NewFakeCapture(make([]byte, 32000), false)
	stream := media.NewStream(media.NewAudioTrack(capture))
	require.NoError(t, o.Start(ctx, stream))
	require.NoError(t, stream.Start())
	assert.True(t, o.Session().Recording)
	done := f.run(o)

	f.clock.Advance(time.Second)
	require.NoError(t, o.End(ctx))
	<-done

	s := o.Session()
	require.NotNil(t, s.Artifact)
	assert.False(t, s.Recording)
	assert.False(t, capture.Running(), "End should release the microphone")
	_, err := os.Stat(s.Artifact.Path)
	require.NoError(t, err)

	row, err := f.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Artifact.ID, row.RecordingID)

	turns := o.Transcript()
	assert.Equal(t, RecordingStartedLine, turns[0].Text)
	last := turns[len(turns)-1]
	assert.Equal(t, conversation.System, last.Speaker)
	assert.Equal(t, FullTranscriptLabel, last.Label)
	assert.Equal(t, "the whole interview", last.Text)
}

func TestRunCancelEndsSession(t *testing.T) {
	f := newFixture(t)
	o := New(f.cfg, f.deps)
	require.NoError(t, o.Start(context.Background(), micStream(0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, Ended, o.Session().Status)
}

func TestFailRecordsCause(t *testing.T) {
	f := newFixture(t)
	o := New(f.cfg, f.deps)
	require.NoError(t, o.Start(context.Background(), micStream(0)))
	id := o.Session().ID
	done := f.run(o)

	o.Fail(errors.New("camera unplugged"))
	o.Fail(errors.New("again"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Fail")
	}

	s := o.Session()
	assert.Equal(t, Ended, s.Status)
	assert.Equal(t, "camera unplugged", s.Failure)

	row, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, row.Status)
}

func TestUnsupportedRecognitionAlertsSink(t *testing.T) {
	f := newFixture(t)
	f.engine.SetSupported(false)
	o := New(f.cfg, f.deps)
	require.NoError(t, o.Start(context.Background(), micStream(0)))
	done := f.run(o)

	f.advanceUntil(func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.alerts) == 1
	}, "capability alert")
	assert.Equal(t, alert.Capability, f.sink.alerts[0].Kind)

	require.NoError(t, o.End(context.Background()))
	<-done
}
