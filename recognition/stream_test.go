package recognition

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"viva/audio"
	"viva/media"
)

type fakeWS struct {
	updates chan update
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	sent      [][]byte
	closeSent bool
}

func newFakeWS() *fakeWS {
	return &fakeWS{updates: make(chan update, 16), done: make(chan struct{})}
}

func (f *fakeWS) Send(pcm []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), pcm...))
	f.mu.Unlock()
	return nil
}

func (f *fakeWS) CloseSend() error {
	f.mu.Lock()
	f.closeSent = true
	f.mu.Unlock()
	select {
	case f.updates <- update{FromFinalize: true}:
	default:
	}
	return nil
}

func (f *fakeWS) Recv() (update, error) {
	select {
	case u := <-f.updates:
		return u, nil
	case <-f.done:
		return update{}, io.EOF
	}
}

func (f *fakeWS) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeWS) sentBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		n += len(c)
	}
	return n
}

type snapshots struct {
	mu   sync.Mutex
	last Snapshot
	n    int
}

func (s *snapshots) record(snap Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.n++
	s.mu.Unlock()
}

func (s *snapshots) get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func newStreamFixture(t *testing.T) (*StreamEngine, *snapshots, func() *fakeWS, *audio.FakeCapture) {
	t.Helper()
	dev := audio.NewFakeCapture(nil, false)
	mic := media.NewAudioTrack(dev)
	require.NoError(t, mic.Start())
	t.Cleanup(mic.Stop)

	var mu sync.Mutex
	var current *fakeWS
	dial := func(context.Context, Options) (rawSession, error) {
		mu.Lock()
		defer mu.Unlock()
		current = newFakeWS()
		return current, nil
	}
	e := NewStreamEngine(dial, mic)
	snaps := &snapshots{}
	e.SetHandler(snaps.record)
	return e, snaps, func() *fakeWS {
		mu.Lock()
		defer mu.Unlock()
		return current
	}, dev
}

func TestSessionFeedChunks(t *testing.T) {
	ws := newFakeWS()
	s := newSession(ws, nil, nil)
	s.run()

	s.feed(make([]byte, streamChunkBytes/2))
	s.feed(make([]byte, streamChunkBytes))
	s.feed(make([]byte, 10))

	s.close()
	assert.Equal(t, streamChunkBytes*3/2+10, ws.sentBytes(), "tail is flushed on close")
	assert.True(t, ws.closeSent)
}

func TestSessionCloseKeepsInterim(t *testing.T) {
	ws := newFakeWS()
	s := newSession(ws, nil, nil)
	s.run()

	ws.updates <- update{Transcript: "I worked on", IsFinal: true}
	ws.updates <- update{Transcript: "payments"}
	require.Eventually(t, func() bool { return s.text() == "I worked on payments" }, waitFor, tick)

	// CloseSend answers with an empty from_finalize update
	assert.Equal(t, "I worked on payments", s.close())
}

func TestStreamEngineTranscript(t *testing.T) {
	e, snaps, ws, _ := newStreamFixture(t)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx, Options{Continuous: true}))
	assert.True(t, e.Listening())

	ws().updates <- update{Transcript: "hello wor"}
	require.Eventually(t, func() bool { return snaps.get().Transcript == "hello wor" }, waitFor, tick)

	ws().updates <- update{Transcript: "hello world", IsFinal: true}
	require.Eventually(t, func() bool { return snaps.get().Transcript == "hello world" }, waitFor, tick)

	ws().updates <- update{Transcript: "how are"}
	require.Eventually(t, func() bool { return snaps.get().Transcript == "hello world how are" }, waitFor, tick)

	require.NoError(t, e.Stop())
	assert.False(t, e.Listening())
	assert.Equal(t, "hello world how are", snaps.get().Transcript)

	// transcript carries over a pause
	require.NoError(t, e.Start(ctx, Options{Continuous: true}))
	ws().updates <- update{Transcript: "you", IsFinal: true}
	require.Eventually(t, func() bool { return snaps.get().Transcript == "hello world how are you" }, waitFor, tick)

	e.Reset()
	assert.Equal(t, "", snaps.get().Transcript)
	require.NoError(t, e.Stop())
}

func TestStreamEngineHalt(t *testing.T) {
	e, snaps, ws, _ := newStreamFixture(t)
	require.NoError(t, e.Start(context.Background(), Options{}))

	ws().updates <- update{Transcript: "still here", IsFinal: true}
	require.Eventually(t, func() bool { return snaps.get().Transcript == "still here" }, waitFor, tick)

	ws().Close()
	require.Eventually(t, func() bool { return !snaps.get().Listening }, waitFor, tick)
	assert.False(t, e.Listening())
	assert.Equal(t, "still here", snaps.get().Transcript)
	assert.NoError(t, e.Stop())
}

func TestStreamEngineDialError(t *testing.T) {
	mic := media.NewAudioTrack(audio.NewFakeCapture(nil, false))
	e := NewStreamEngine(func(context.Context, Options) (rawSession, error) {
		return nil, errors.New("refused")
	}, mic)
	assert.Error(t, e.Start(context.Background(), Options{}))
	assert.False(t, e.Listening())
}

func TestStreamEnginePermissionFollowsMic(t *testing.T) {
	mic := media.NewAudioTrack(audio.NewFakeCapture(nil, false))
	e := NewStreamEngine(func(context.Context, Options) (rawSession, error) { return newFakeWS(), nil }, mic)

	ok, err := e.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mic.Start())
	defer mic.Stop()
	ok, _ = e.RequestPermission(context.Background())
	assert.True(t, ok)

	assert.False(t, NewStreamEngine(nil, nil).Supported())
}

func TestDeepgramSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token key", r.Header.Get("Authorization"))
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		_ = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hi there "}]}}`))
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(data), "Finalize") {
				_ = conn.Write(ctx, websocket.MessageText,
					[]byte(`{"type":"Results","from_finalize":true,"channel":{"alternatives":[{"transcript":""}]}}`))
			}
		}
	}))
	defer srv.Close()

	d := NewDeepgram("key", "")
	d.endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	ws, err := d.Dial(context.Background(), Options{Continuous: true, Language: "en-US"})
	require.NoError(t, err)
	defer ws.Close()

	u, err := ws.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hi there", u.Transcript)
	assert.True(t, u.IsFinal)

	require.NoError(t, ws.Send(make([]byte, 320)))
	require.NoError(t, ws.CloseSend())
	u, err = ws.Recv()
	require.NoError(t, err)
	assert.True(t, u.FromFinalize)
}
