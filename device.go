package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"viva/audio"
)

var errSetupAborted = errors.New("microphone selection aborted")

// picker is the state of the interactive microphone list.
type picker struct {
	names  []string
	cursor int
}

// key applies one keypress. It reports whether a choice was confirmed and
// whether the user aborted.
func (p *picker) key(buf []byte) (done, aborted bool) {
	if len(buf) == 1 {
		switch buf[0] {
		case '\r', '\n':
			return true, false
		case 3, 'q': // ctrl+c
			return false, true
		case 'j':
			p.down()
		case 'k':
			p.up()
		}
		return false, false
	}
	if len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' {
		switch buf[2] {
		case 'A':
			p.up()
		case 'B':
			p.down()
		}
	}
	return false, false
}

func (p *picker) up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *picker) down() {
	if p.cursor < len(p.names)-1 {
		p.cursor++
	}
}

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, name := range p.names {
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s\x1b[0m\r\n", name)
		} else {
			fmt.Fprintf(w, "    %s\r\n", name)
		}
	}
}

// selectDevice lets the user pick a capture device with the arrow keys.
func selectDevice(actx audio.Context, in *os.File, out io.Writer) (*audio.DeviceInfo, error) {
	devices, err := actx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no capture devices found")
	}
	if len(devices) == 1 {
		fmt.Fprintf(out, "Using microphone: %s\n", devices[0].Name)
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{}
	for _, d := range devices {
		p.names = append(p.names, d.Name)
	}
	p.render(out)

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, aborted := p.key(buf[:n])
		switch {
		case aborted:
			fmt.Fprint(out, "\r\n")
			return nil, errSetupAborted
		case done:
			fmt.Fprint(out, "\r\n")
			return &devices[p.cursor], nil
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		p.render(out)
	}
}
