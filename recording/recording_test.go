package recording

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viva/alert"
	"viva/audio"
	"viva/media"
	"viva/store"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type memStore struct {
	mu   sync.Mutex
	recs []store.Recording
	err  error
}

func (m *memStore) AddRecording(_ context.Context, r store.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return m.err
}

func pcm(samples int, v int16) []byte {
	b := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		b[2*i] = byte(v)
		b[2*i+1] = byte(uint16(v) >> 8)
	}
	return b
}

func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = b
	}
}

func TestStartWithoutAudioTrack(t *testing.T) {
	rec := &alert.Recorder{}
	c := New(Config{Dir: t.TempDir()}, clockwork.NewFakeClock(), nil, alert.NewOnce(rec))

	err := c.Start(media.NewStream(), nil)
	if !errors.Is(err, ErrNoAudioTrack) {
		t.Fatalf("Start = %v, want ErrNoAudioTrack", err)
	}
	if rec.Count(alert.Recording) != 1 {
		t.Errorf("recording alerts = %d, want 1", rec.Count(alert.Recording))
	}
	if c.Recording() {
		t.Error("should not be recording")
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop = %v, want ErrNotRecording", err)
	}
}

func TestRecordMixesInterviewerVoice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{Dir: t.TempDir(), ChunkInterval: 500 * time.Millisecond}, clock, nil, nil)

	mic := media.NewAudioTrack(audio.NewFakeCapture(pcm(8000, 100), false))
	stream := media.NewStream(mic)
	system := media.NewSystemAudio()

	require.NoError(t, c.Start(stream, system))
	assert.True(t, c.Recording())

	system.Push(make([]int16, 4000))
	require.NoError(t, stream.Start())

	clock.Advance(500 * time.Millisecond)
	assert.Eventually(t, func() bool { return system.Pending() == 0 }, waitFor, tick, "system audio should be drained into the chunk")

	clock.Advance(2 * time.Second)
	a, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, 8000, a.Samples)
	assert.Zero(t, a.Frames)
	assert.Equal(t, 2500*time.Millisecond, a.Duration)
	assert.NotEmpty(t, a.Audio)
	assert.False(t, c.Recording())

	system.Push(make([]int16, 10))
	assert.Zero(t, system.Pending(), "system audio detached after Stop")
}

func TestVideoFrameBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// 1000 bytes per 500ms chunk.
	cfg := Config{Dir: t.TempDir(), ChunkInterval: 500 * time.Millisecond, VideoBitsPerSecond: 16000}
	c := New(cfg, clock, nil, nil)

	frame := bytes.Repeat([]byte{0xAB}, 600)
	video := media.NewVideoTrack(media.NewStaticFrames(frame, frame, frame))
	mic := media.NewAudioTrack(audio.NewFakeCapture(pcm(1600, 1), false))
	stream := media.NewStream(mic, video)

	require.NoError(t, c.Start(stream, nil))
	require.NoError(t, stream.Start())
	defer stream.Stop()

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		r := c.rec
		c.mu.Unlock()
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.frames) == 3
	}, waitFor, tick)

	a, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Frames)
	assert.Equal(t, 2, a.Dropped)
	assert.Len(t, a.Video, 600)

	data, err := a.Archive()
	require.NoError(t, err)
	files := untar(t, data)
	assert.Len(t, files["video.mjpeg"], 600)
	var m manifest
	require.NoError(t, json.Unmarshal(files["manifest.json"], &m))
	require.NotNil(t, m.Video)
	assert.Equal(t, 16000, m.Video.BitsPerSecond)
	assert.Equal(t, 2, m.Video.Dropped)
	assert.Zero(t, m.Audio.BitsPerSecond)
}

func TestStopWithoutData(t *testing.T) {
	c := New(Config{Dir: t.TempDir()}, clockwork.NewFakeClock(), nil, nil)
	mic := media.NewAudioTrack(audio.NewFakeCapture(nil, false))
	require.NoError(t, c.Start(media.NewStream(mic), nil))

	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPersist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	st := &memStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 4, 10, 20, 30, 123e6, time.UTC))
	c := New(Config{Dir: dir, AudioBitsPerSecond: 128_000}, clock, st, nil)

	mic := media.NewAudioTrack(audio.NewFakeCapture(pcm(4000, 50), false))
	stream := media.NewStream(mic)
	require.NoError(t, c.Start(stream, nil))
	require.NoError(t, stream.Start())
	clock.Advance(time.Second)

	a, err := c.Stop()
	require.NoError(t, err)

	ref, err := c.Persist(context.Background(), "sess-1", a)
	require.NoError(t, err)
	assert.Equal(t, "interview-2026-03-04T10-20-30-123Z.tar", ref.Name)
	assert.Equal(t, "/recordings/"+ref.ID, ref.URL)

	data, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), ref.Size)

	files := untar(t, data)
	assert.Contains(t, files, "audio.flac")
	assert.NotContains(t, files, "video.mjpeg")
	assert.Equal(t, []byte("fLaC"), files["audio.flac"][:4])

	var m manifest
	require.NoError(t, json.Unmarshal(files["manifest.json"], &m))
	assert.Equal(t, 4000, m.Audio.Samples)
	assert.EqualValues(t, 1000, m.DurationMs)
	assert.Equal(t, 128_000, m.Audio.BitsPerSecond)
	assert.Nil(t, m.Video)

	flac, err := ReadAudio(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, files["audio.flac"], flac)

	require.Len(t, st.recs, 1)
	assert.Equal(t, "sess-1", st.recs[0].SessionID)
	assert.Equal(t, ref.ID, st.recs[0].ID)
	assert.Equal(t, time.Second, st.recs[0].Duration)
}

func TestPersistIndexFailureKeepsFile(t *testing.T) {
	st := &memStore{err: errors.New("disk full")}
	c := New(Config{Dir: t.TempDir()}, clockwork.NewFakeClock(), st, nil)

	ref, err := c.Persist(context.Background(), "s", &Artifact{Audio: []byte("fLaC"), Samples: 1})
	require.NoError(t, err)
	_, err = os.Stat(ref.Path)
	assert.NoError(t, err)
}

func TestCleanupDiscards(t *testing.T) {
	capture := audio.NewFakeCapture(pcm(100, 1), false)
	stream := media.NewStream(media.NewAudioTrack(capture))
	c := New(Config{Dir: t.TempDir()}, clockwork.NewFakeClock(), nil, nil)

	require.NoError(t, c.Start(stream, nil))
	require.NoError(t, stream.Start())
	c.Cleanup()
	c.Cleanup()

	assert.False(t, c.Recording())
	assert.False(t, capture.Running())
	_, err := c.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}
