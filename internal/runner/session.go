package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"skuntir.com/GraphBridge/internal/graph"
	"skuntir.com/GraphBridge/internal/output"
	"skuntir.com/GraphBridge/internal/plugin"
)

const (
	endOfBlock   = "<EOF>"
	maxLineBytes = 4 << 20
)

var ErrNoEngine = errors.New("no graph engine available")

type resizable interface {
	SetWidth(w int)
	SetHeight(h int)
}

// Session drives one host session: it greets with the current plugin, then
// reads blocks terminated by a "<EOF>" line and evaluates them. A block whose
// first line starts with '%' is a directive (%<name>, %size W H, %).
type Session struct {
	reg     *plugin.Registry
	sink    graph.Sink
	current plugin.Plugin
	logger  hclog.Logger
}

func New(reg *plugin.Registry, sink graph.Sink, defaultName string, logger hclog.Logger) (*Session, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Session{reg: reg, sink: sink, logger: logger.Named("session")}

	if defaultName != "" {
		p, err := reg.Lookup(defaultName)
		if err != nil {
			return nil, err
		}
		if p.Available() {
			s.current = p
			return s, nil
		}
		s.logger.Warn("default engine unavailable", "plugin", defaultName)
	}
	avail := reg.Available()
	if len(avail) == 0 {
		return nil, ErrNoEngine
	}
	s.current, _ = reg.Get(avail[0])
	return s, nil
}

func (s *Session) Current() plugin.Plugin { return s.current }

// Run greets with the current plugin and serves blocks until the input ends
// or ctx is cancelled. Cancellation is noticed even while waiting for input.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	if err := s.sink.FlushVerbatim(s.banner()); err != nil {
		return err
	}
	if err := s.current.Greet(s.sink); err != nil {
		return err
	}

	lines, readErr := readLines(ctx, in)

	var block []string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			break
		}
		if block == nil && strings.HasPrefix(line, string(output.DataCommand)) {
			s.logger.Debug("ignoring host command", "command", strings.TrimPrefix(line, string(output.DataCommand)))
			continue
		}
		if line != endOfBlock {
			block = append(block, line)
			continue
		}
		if err := s.handleBlock(ctx, block); err != nil {
			return err
		}
		block = nil
	}
	if err := <-readErr; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read session input: %w", err)
	}
	if len(block) > 0 {
		s.logger.Debug("discarding unterminated block", "lines", len(block))
	}
	return nil
}

// readLines scans in on its own goroutine. The lines channel is closed once
// input ends or ctx is done; the scan error (if any) is then sent on the
// returned error channel. A reader blocked in Read is abandoned on
// cancellation, which is fine since the session is over.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- sc.Err()
	}()
	return lines, errc
}

func (s *Session) handleBlock(ctx context.Context, lines []string) error {
	if len(lines) > 0 && strings.HasPrefix(lines[0], "%") {
		prompted, err := s.directive(strings.TrimSpace(lines[0][1:]))
		if err != nil {
			return err
		}
		lines = lines[1:]
		if prompted && strings.TrimSpace(strings.Join(lines, "")) == "" {
			return nil
		}
	}

	code := strings.Join(lines, "\n")
	if strings.TrimSpace(code) != "" {
		s.logger.Debug("evaluate", "plugin", s.current.Name(), "bytes", len(code))
		if err := s.current.Evaluate(ctx, code, s.sink); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Info("evaluation failed", "plugin", s.current.Name(), "error", err)
			if fErr := s.sink.FlushVerbatim(err.Error() + "\n"); fErr != nil {
				return fErr
			}
		}
	}
	return s.sink.FlushPrompt(s.current.Prompt())
}

// directive applies a %-line. It reports whether it already issued a prompt.
func (s *Session) directive(d string) (bool, error) {
	fields := strings.Fields(d)
	if len(fields) == 0 {
		return false, s.sink.FlushVerbatim(s.banner())
	}

	if fields[0] == "size" {
		return false, s.resize(fields[1:])
	}

	p, err := s.reg.Lookup(fields[0])
	if err != nil {
		return false, s.sink.FlushVerbatim(err.Error() + "\n")
	}
	if !p.Available() {
		return false, s.sink.FlushVerbatim(fmt.Sprintf("%s is not available\n", p.Name()))
	}
	if p == s.current {
		return false, nil
	}
	s.logger.Debug("switch engine", "from", s.current.Name(), "to", p.Name())
	s.current = p
	return true, p.Greet(s.sink)
}

func (s *Session) resize(args []string) error {
	r, ok := s.current.(resizable)
	if !ok {
		return s.sink.FlushVerbatim(fmt.Sprintf("%s cannot be resized\n", s.current.Name()))
	}
	if len(args) != 2 {
		return s.sink.FlushVerbatim("usage: %size WIDTH HEIGHT\n")
	}
	w, wErr := strconv.Atoi(args[0])
	h, hErr := strconv.Atoi(args[1])
	if wErr != nil || hErr != nil || w < 0 || h < 0 {
		return s.sink.FlushVerbatim("size must be two non-negative integers\n")
	}
	r.SetWidth(w)
	r.SetHeight(h)
	return nil
}

func (s *Session) banner() string {
	return "GraphBridge engines: " + strings.Join(s.reg.Available(), ", ") + "\n"
}
