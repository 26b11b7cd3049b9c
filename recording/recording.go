// Package recording captures the interview's microphone, interviewer voice
// and camera into a single archive.
package recording

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"viva/alert"
	"viva/encoder"
	"viva/log"
	"viva/media"
	"viva/store"
)

var (
	ErrNoAudioTrack = errors.New("no audio track to record")
	ErrNoData       = errors.New("recording captured no data")
	ErrNotRecording = errors.New("not recording")
)

const (
	MimeType   = "application/x-tar"
	keyRecord  = "recording"
	namePrefix = "interview-"
)

type Config struct {
	Dir                string
	ChunkInterval      time.Duration
	VideoBitsPerSecond int
	AudioBitsPerSecond int
}

// Store records persisted artifacts.
type Store interface {
	AddRecording(ctx context.Context, r store.Recording) error
}

// Artifact is a finalized recording held in memory.
type Artifact struct {
	StartedAt   time.Time
	Duration    time.Duration
	Audio       []byte // FLAC
	Video       []byte // concatenated JPEG frames
	Samples     int
	Frames      int
	Dropped     int
	Chunks      int
	ChunkPeriod time.Duration

	// Configured target bitrates, recorded in the manifest.
	AudioBitsPerSecond int
	VideoBitsPerSecond int
}

// Ref points at a persisted artifact.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"-"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Coordinator struct {
	cfg    Config
	clock  clockwork.Clock
	store  Store
	alerts *alert.Once

	mu     sync.Mutex
	rec    *recorder
	stream *media.Stream
}

// New returns a Coordinator. st may be nil.
func New(cfg Config, clock clockwork.Clock, st Store, alerts *alert.Once) *Coordinator {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 500 * time.Millisecond
	}
	if alerts == nil {
		alerts = alert.NewOnce(nil)
	}
	return &Coordinator{cfg: cfg, clock: clock, store: st, alerts: alerts}
}

// Start begins recording stream. system, when set, carries the
// interviewer's voice to mix in. A failure is reported and returned but
// never stops the interview.
func (c *Coordinator) Start(stream *media.Stream, system *media.SystemAudio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		return nil
	}
	c.stream = stream
	if stream == nil || len(stream.AudioTracks()) == 0 {
		c.alerts.ReportOnce(keyRecord, alert.Alert{
			Kind:    alert.Recording,
			Message: "Recording is unavailable: no microphone track",
			Err:     ErrNoAudioTrack,
		})
		return ErrNoAudioTrack
	}
	rec, err := newRecorder(c.clock, c.cfg, stream, system)
	if err != nil {
		c.alerts.ReportOnce(keyRecord, alert.Alert{Kind: alert.Recording, Message: "Recording failed to start", Err: err})
		return fmt.Errorf("start recording: %w", err)
	}
	c.rec = rec
	log.Infof("recording started: %d audio, %d video tracks", len(stream.AudioTracks()), len(stream.VideoTracks()))
	return nil
}

func (c *Coordinator) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Stop finalizes the active recording.
func (c *Coordinator) Stop() (*Artifact, error) {
	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	c.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}

	rec.stop(true)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.encErr != nil {
		return nil, fmt.Errorf("encode audio: %w", rec.encErr)
	}
	if rec.samples == 0 && rec.admitted == 0 {
		return nil, ErrNoData
	}
	a := &Artifact{
		StartedAt:   rec.started,
		Duration:    c.clock.Since(rec.started),
		Audio:       append([]byte(nil), rec.enc.Bytes()...),
		Video:       rec.video,
		Samples:     rec.samples,
		Frames:      rec.admitted,
		Dropped:     rec.dropped,
		Chunks:      rec.chunks,
		ChunkPeriod: c.cfg.ChunkInterval,

		AudioBitsPerSecond: c.cfg.AudioBitsPerSecond,
		VideoBitsPerSecond: c.cfg.VideoBitsPerSecond,
	}
	log.RecordingMetrics(log.RecordingData{
		Chunks:        a.Chunks,
		AudioS:        encoder.Duration(rec.enc).Seconds(),
		VideoFrames:   a.Frames,
		DroppedFrames: a.Dropped,
		SizeKB:        float64(len(a.Audio)+len(a.Video)) / 1024,
		EncodeMs:      float64(rec.enc.EncodeTime().Microseconds()) / 1000,
	})
	return a, nil
}

// Cleanup discards any in-progress recording and stops every track of
// the stream. Safe to call at any time.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	rec, stream := c.rec, c.stream
	c.rec, c.stream = nil, nil
	c.mu.Unlock()
	if rec != nil {
		rec.stop(false)
	}
	if stream != nil {
		stream.Stop()
	}
}

// FileName is the archive name for a recording started at t.
func FileName(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return namePrefix + strings.NewReplacer(":", "-", ".", "-").Replace(iso) + ".tar"
}

// Persist writes a to the recordings directory and registers it.
func (c *Coordinator) Persist(ctx context.Context, sessionID string, a *Artifact) (Ref, error) {
	if a == nil {
		return Ref{}, ErrNoData
	}
	data, err := a.Archive()
	if err != nil {
		return Ref{}, err
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("creating recordings directory: %w", err)
	}
	name := FileName(a.StartedAt)
	path := filepath.Join(c.cfg.Dir, name)

	tmp, err := os.CreateTemp(c.cfg.Dir, ".viva-recording-*")
	if err != nil {
		return Ref{}, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Ref{}, fmt.Errorf("write recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Ref{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Ref{}, fmt.Errorf("write recording: %w", err)
	}

	ref := Ref{ID: uuid.NewString(), Name: name, Path: path, Size: int64(len(data))}
	ref.URL = "/recordings/" + ref.ID
	if c.store != nil {
		err := c.store.AddRecording(ctx, store.Recording{
			ID:        ref.ID,
			SessionID: sessionID,
			Name:      name,
			Path:      path,
			Size:      ref.Size,
			Duration:  a.Duration,
			CreatedAt: c.clock.Now(),
		})
		if err != nil {
			log.Warnf("recording saved to %s but not indexed: %v", path, err)
		}
	}
	log.Infof("recording saved: %s (%d KB)", path, ref.Size/1024)
	return ref, nil
}

type manifest struct {
	Version         int       `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	DurationMs      int64     `json:"duration_ms"`
	ChunkIntervalMs int64     `json:"chunk_interval_ms"`
	Chunks          int       `json:"chunks"`
	Audio           audioManifest  `json:"audio"`
	Video           *videoManifest `json:"video,omitempty"`
}

type audioManifest struct {
	File          string `json:"file"`
	Codec         string `json:"codec"`
	SampleRate    int    `json:"sample_rate"`
	Samples       int    `json:"samples"`
	BitsPerSecond int    `json:"bits_per_second,omitempty"`
}

type videoManifest struct {
	File          string `json:"file"`
	Codec         string `json:"codec"`
	Frames        int    `json:"frames"`
	Dropped       int    `json:"dropped"`
	BitsPerSecond int    `json:"bits_per_second,omitempty"`
}

// Archive packs the artifact as a tar of manifest.json, audio.flac and,
// when frames were kept, video.mjpeg.
func (a *Artifact) Archive() ([]byte, error) {
	m := manifest{
		Version:         1,
		StartedAt:       a.StartedAt.UTC(),
		DurationMs:      a.Duration.Milliseconds(),
		ChunkIntervalMs: a.ChunkPeriod.Milliseconds(),
		Chunks:          a.Chunks,
		Audio: audioManifest{
			File:          "audio.flac",
			Codec:         "flac",
			SampleRate:    encoder.SampleRate,
			Samples:       a.Samples,
			BitsPerSecond: a.AudioBitsPerSecond,
		},
	}
	if a.Frames > 0 {
		m.Video = &videoManifest{
			File:          "video.mjpeg",
			Codec:         "mjpeg",
			Frames:        a.Frames,
			Dropped:       a.Dropped,
			BitsPerSecond: a.VideoBitsPerSecond,
		}
	}
	mj, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := []struct {
		name string
		data []byte
	}{
		{"manifest.json", mj},
		{"audio.flac", a.Audio},
	}
	if a.Frames > 0 {
		files = append(files, struct {
			name string
			data []byte
		}{"video.mjpeg", a.Video})
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.data)), ModTime: a.StartedAt}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive %s: %w", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			return nil, fmt.Errorf("archive %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadAudio extracts audio.flac from an archive produced by Archive.
func ReadAudio(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err != nil {
			return nil, fmt.Errorf("audio.flac not found in %s: %w", filepath.Base(path), err)
		}
		if hdr.Name == "audio.flac" {
			var b bytes.Buffer
			if _, err := b.ReadFrom(tr); err != nil {
				return nil, err
			}
			return b.Bytes(), nil
		}
	}
}
