package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"viva/log"
)

// ErrNoFFmpeg is returned when no ffmpeg binary is on PATH.
var ErrNoFFmpeg = errors.New("ffmpeg not found")

const (
	cameraFPS        = 15
	cameraSize       = "640x480"
	maxJPEGFrameSize = 4 << 20
)

// Camera reads an MJPEG stream from an ffmpeg child process.
type Camera struct {
	device string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames chan []byte

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func cameraArgs(device string) []string {
	var in []string
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = "0"
		}
		in = []string{"-f", "avfoundation", "-framerate", fmt.Sprint(cameraFPS), "-i", device + ":none"}
	case "windows":
		in = []string{"-f", "dshow", "-i", "video=" + device}
	default:
		if device == "" {
			device = "/dev/video0"
		}
		in = []string{"-f", "v4l2", "-framerate", fmt.Sprint(cameraFPS), "-video_size", cameraSize, "-i", device}
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, in...)
	return append(args, "-f", "mjpeg", "-q:v", "5", "-")
}

// OpenCamera starts ffmpeg against device (platform default when empty).
func OpenCamera(ctx context.Context, device string) (*Camera, error) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrNoFFmpeg
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin, cameraArgs(device)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	c := &Camera{device: device, cmd: cmd, stdout: stdout, frames: make(chan []byte, 8), cancel: cancel}
	go c.read()
	return c, nil
}

func (c *Camera) read() {
	defer close(c.frames)
	r := bufio.NewReaderSize(c.stdout, 64<<10)
	for {
		frame, err := nextJPEG(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warnf("camera: %v", err)
			}
			return
		}
		select {
		case c.frames <- frame:
		default:
			// consumer is behind; drop the frame
		}
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// nextJPEG returns the next SOI..EOI span from r.
func nextJPEG(r *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}
	frame := bytes.NewBuffer(append([]byte(nil), jpegSOI...))
	prev = 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return frame.Bytes(), nil
		}
		if frame.Len() > maxJPEGFrameSize {
			return nil, errors.New("jpeg frame exceeds size limit")
		}
		prev = b
	}
}

func (c *Camera) Frames() <-chan []byte { return c.frames }

func (c *Camera) Name() string {
	if c.device == "" {
		return "default camera"
	}
	return c.device
}

func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.cmd.Wait()
	})
	return nil
}
