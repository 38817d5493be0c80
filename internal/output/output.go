package output

import (
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	DataBegin   = '\x02'
	DataEnd     = '\x05'
	DataEscape  = '\x1b'
	DataCommand = '\x10'
)

var escaper = strings.NewReplacer(
	string(DataEscape), string(DataEscape)+string(DataEscape),
	string(DataBegin), string(DataEscape)+string(DataBegin),
	string(DataEnd), string(DataEscape)+string(DataEnd),
)

type flusher interface {
	Flush() error
}

// Protocol frames session output for the host editor. In plain mode the
// framing bytes are dropped so the stream stays readable on a terminal.
type Protocol struct {
	mu    sync.Mutex
	w     io.Writer
	errW  io.Writer
	plain bool
}

func NewProtocol(w, errW io.Writer) *Protocol {
	return &Protocol{w: w, errW: errW}
}

func NewPlain(w, errW io.Writer) *Protocol {
	return &Protocol{w: w, errW: errW, plain: true}
}

// ForFile picks plain mode when f is an interactive terminal.
func ForFile(f *os.File, errW io.Writer) *Protocol {
	if term.IsTerminal(int(f.Fd())) {
		return NewPlain(f, errW)
	}
	return NewProtocol(f, errW)
}

func (p *Protocol) Plain() bool { return p.plain }

func (p *Protocol) FlushVerbatim(s string) error {
	return p.flush(p.w, "verbatim:", escape(s), s)
}

func (p *Protocol) FlushPrompt(s string) error {
	return p.flush(p.w, "prompt#", escape(s), s)
}

func (p *Protocol) FlushLatex(s string) error {
	return p.flush(p.w, "latex:", escape(s), "latex:"+s+"\n")
}

func (p *Protocol) FlushFile(path string) error {
	return p.flush(p.w, "file:", escape(path), "file:"+path+"\n")
}

func (p *Protocol) FlushPs(s string) error {
	return p.flush(p.w, "ps:", escape(s), "ps:"+s+"\n")
}

func (p *Protocol) FlushCommand(s string) error {
	return p.flush(p.w, "command:", escape(s), "command:"+s+"\n")
}

// FlushErr writes a verbatim block to the error stream.
func (p *Protocol) FlushErr(s string) error {
	return p.flush(p.errW, "verbatim:", escape(s), s)
}

func (p *Protocol) flush(w io.Writer, kind, payload, plain string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.plain {
		_, err = io.WriteString(w, plain)
	} else {
		var b strings.Builder
		b.Grow(len(kind) + len(payload) + 2)
		b.WriteByte(DataBegin)
		b.WriteString(kind)
		b.WriteString(payload)
		b.WriteByte(DataEnd)
		_, err = io.WriteString(w, b.String())
	}
	if err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, string([]byte{DataBegin, DataEnd, DataEscape})) {
		return s
	}
	return escaper.Replace(s)
}
