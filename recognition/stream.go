package recognition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"viva/audio"
	"viva/log"
	"viva/media"
)

const (
	streamChunkMs      = 200
	streamChunkBytes   = audio.SampleRate * audio.Channels * (audio.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = time.Second
	streamDrainMax     = 2 * time.Second
)

// rawSession is one websocket conversation with a streaming recognizer.
type rawSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (update, error)
	Close() error
}

type update struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

// Dialer opens a streaming session.
type Dialer func(ctx context.Context, opts Options) (rawSession, error)

type streamStats struct {
	SentChunks   int
	SentBytes    uint64
	Dropped      int
	RecvFinal    int
	RecvInterim  int
	FinalizeWait time.Duration
}

// session feeds microphone PCM to one rawSession and accumulates the
// finalized text it sends back.
type session struct {
	ws       rawSession
	audioCh  chan []byte
	onChange func()
	onHalt   func(error)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedMu  sync.Mutex
	feedBuf []byte
	closed  bool

	mu        sync.Mutex
	committed string
	interim   string
	closing   bool
	err       error
	stats     streamStats
}

func newSession(ws rawSession, onChange func(), onHalt func(error)) *session {
	s := &session{
		ws:        ws,
		audioCh:   make(chan []byte, 64),
		onChange:  onChange,
		onHalt:    onHalt,
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
	}
	return s
}

func (s *session) run() {
	go s.runSender()
	go s.runReceiver()
}

// feed is called from the capture callback and never blocks.
func (s *session) feed(pcm []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.closed {
		return
	}
	s.feedBuf = append(s.feedBuf, pcm...)
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		select {
		case s.audioCh <- chunk:
		default:
			s.mu.Lock()
			s.stats.Dropped++
			s.mu.Unlock()
		}
	}
}

// text is the finalized transcript followed by the current interim guess.
func (s *session) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinText(s.committed, s.interim)
}

func (s *session) clear() {
	s.mu.Lock()
	s.committed, s.interim = "", ""
	s.mu.Unlock()
}

// close flushes pending audio, waits briefly for the recognizer to
// finalize, and returns the committed transcript.
func (s *session) close() string {
	s.feedMu.Lock()
	if !s.closed {
		s.closed = true
		if len(s.feedBuf) > 0 {
			select {
			case s.audioCh <- s.feedBuf:
			default:
			}
			s.feedBuf = nil
		}
		close(s.audioCh)
	}
	s.feedMu.Unlock()

	start := time.Now()
	<-s.sendDone

	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-s.recvDone:
	case <-time.After(streamFinalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(streamDrainMax):
		log.Warn("recognition stream receiver drain timeout")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FinalizeWait = time.Since(start)
	// keep the last interim guess; the candidate said it even if the
	// recognizer never confirmed it
	return joinText(s.committed, s.interim)
}

func (s *session) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.fail(err)
			for range s.audioCh {
			}
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.fail(err)
	}
}

func (s *session) runReceiver() {
	defer close(s.recvDone)
	for {
		u, err := s.ws.Recv()
		if err != nil {
			s.fail(err)
			return
		}
		if u.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		final := u.IsFinal || u.SpeechFinal || u.FromFinalize
		transcript := strings.TrimSpace(u.Transcript)

		s.mu.Lock()
		switch {
		case final && transcript == "":
			// an empty final confirms nothing; the interim guess stands
			s.stats.RecvFinal++
		case final:
			s.stats.RecvFinal++
			s.committed = joinText(s.committed, transcript)
			s.interim = ""
		default:
			s.stats.RecvInterim++
			s.interim = transcript
		}
		s.mu.Unlock()

		if s.onChange != nil {
			s.onChange()
		}
	}
}

// fail records the first transport error. Errors after close began are
// expected and ignored.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.closing || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	s.ws.Close()
	if s.onHalt != nil {
		s.onHalt(err)
	}
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// StreamEngine is an Engine backed by a streaming recognizer fed from a
// microphone track. Its transcript survives Stop and Start and is cleared
// only by Reset.
type StreamEngine struct {
	dial Dialer
	mic  *media.AudioTrack

	op sync.Mutex

	mu          sync.Mutex
	handler     func(Snapshot)
	base        string
	sess        *session
	unsubscribe func()
	listening   bool
}

func NewStreamEngine(dial Dialer, mic *media.AudioTrack) *StreamEngine {
	return &StreamEngine{dial: dial, mic: mic}
}

func (e *StreamEngine) Supported() bool {
	return e.dial != nil && e.mic != nil
}

// RequestPermission reports whether the microphone track is capturing.
func (e *StreamEngine) RequestPermission(context.Context) (bool, error) {
	if e.mic == nil {
		return false, ErrUnsupported
	}
	return e.mic.Live(), nil
}

func (e *StreamEngine) Start(ctx context.Context, opts Options) error {
	if !e.Supported() {
		return ErrUnsupported
	}
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	ws, err := e.dial(ctx, opts)
	if err != nil {
		return err
	}

	var sess *session
	sess = newSession(ws, func() { e.changed(sess) }, func(err error) { e.halted(sess, err) })

	unsubscribe := e.mic.Subscribe(sess.feed)

	e.mu.Lock()
	e.sess = sess
	e.unsubscribe = unsubscribe
	e.listening = true
	e.mu.Unlock()
	sess.run()

	e.emit()
	return nil
}

func (e *StreamEngine) Stop() error {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	sess, unsubscribe := e.sess, e.unsubscribe
	e.sess, e.unsubscribe = nil, nil
	e.listening = false
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	text := sess.close()

	e.mu.Lock()
	e.base = joinText(e.base, text)
	stats := sess.stats
	err := sess.err
	e.mu.Unlock()
	log.Infof("recognition stream closed: sent=%d chunks dropped=%d final=%d interim=%d finalize=%dms",
		stats.SentChunks, stats.Dropped, stats.RecvFinal, stats.RecvInterim, stats.FinalizeWait.Milliseconds())

	e.emit()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *StreamEngine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

func (e *StreamEngine) Reset() {
	e.mu.Lock()
	e.base = ""
	if e.sess != nil {
		e.sess.clear()
	}
	e.mu.Unlock()
	e.emit()
}

func (e *StreamEngine) SetHandler(h func(Snapshot)) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *StreamEngine) changed(sess *session) {
	e.mu.Lock()
	current := e.sess == sess
	e.mu.Unlock()
	if current {
		e.emit()
	}
}

// halted handles the recognizer dropping the connection on its own. The
// text heard so far is kept; the supervisor decides whether to restart.
func (e *StreamEngine) halted(sess *session, err error) {
	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.listening = false
	e.base = joinText(e.base, sess.text())
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	go sess.close()
	log.Warnf("recognition stream halted: %v", err)
	e.emit()
}

func (e *StreamEngine) emit() {
	e.mu.Lock()
	h := e.handler
	text := e.base
	if e.sess != nil {
		text = joinText(text, e.sess.text())
	}
	snap := Snapshot{Transcript: text, Listening: e.listening}
	e.mu.Unlock()
	if h != nil {
		h(snap)
	}
}
