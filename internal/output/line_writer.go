package output

import (
	"bytes"
	"sync"
)

// LineWriter hands every complete non-empty line written to it to emit.
// Call Flush once the producer is done to pass on a trailing partial line.
type LineWriter struct {
	emit func(line string) error

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewLineWriter(emit func(line string) error) *LineWriter {
	return &LineWriter{emit: emit}
}

func (l *LineWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.buf.Write(b)
	for {
		line, ok := l.nextLineLocked()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if eErr := l.emit(line); eErr != nil && err == nil {
			err = eErr
		}
	}
	return n, err
}

func (l *LineWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rest := bytes.TrimRight(l.buf.Bytes(), "\r\n")
	l.buf.Reset()
	if len(rest) == 0 {
		return nil
	}
	return l.emit(string(rest))
}

func (l *LineWriter) nextLineLocked() (string, bool) {
	data := l.buf.Bytes()
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			line := string(data[:i])
			consume := 1
			if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				consume = 2
			}
			l.buf.Next(i + consume)
			return line, true
		}
	}
	return "", false
}
