package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"skuntir.com/GraphBridge/internal/graph"
	"skuntir.com/GraphBridge/internal/output"
)

const (
	FormatPNG = "png"
	FormatEPS = "eps"
)

// waitDelay bounds how long a killed engine's children may hold its pipes.
const waitDelay = 2 * time.Second

type ShellOptions struct {
	Binary      string
	Format      string
	VersionArgs []string
	Flags       []string
	Timeout     time.Duration
	Logger      hclog.Logger
}

// ShellGraph renders code with an external engine binary. The code is fed
// on stdin; flags may reference {{png_file}}, {{eps_file}}, {{tmp_dir}},
// {{width}}, {{height}} and {{name}}. When no flag refers to the output
// location (the file itself or the tmp dir it lives in) the engine's stdout
// is written to the output file instead.
type ShellGraph struct {
	*graph.Graph

	bin         string
	format      string
	versionArgs []string
	flags       []string
	timeout     time.Duration
	logger      hclog.Logger
}

// EvalError reports an engine run that did not exit cleanly.
type EvalError struct {
	Plugin   string
	ExitCode int
	Err      error
}

func (e *EvalError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s exited with code %d: %v", e.Plugin, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Plugin, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

var _ Plugin = (*ShellGraph)(nil)

func NewShellGraph(g *graph.Graph, opts ShellOptions) *ShellGraph {
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ShellGraph{
		Graph:       g,
		bin:         opts.Binary,
		format:      format,
		versionArgs: opts.VersionArgs,
		flags:       opts.Flags,
		timeout:     opts.Timeout,
		logger:      logger.Named(g.Name()),
	}
}

func (s *ShellGraph) Binary() string { return s.bin }
func (s *ShellGraph) Format() string { return s.format }

// Probe asks the engine to identify itself and keeps the answer as the
// greeting message. An engine that cannot be found leaves the message empty.
func (s *ShellGraph) Probe(ctx context.Context) error {
	s.SetMessage("")

	path, err := exec.LookPath(s.bin)
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.Name(), err)
	}
	if len(s.versionArgs) == 0 {
		s.SetMessage(fmt.Sprintf("%s: %s\n", s.Name(), path))
		return nil
	}

	cmd := exec.CommandContext(ctx, path, s.versionArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.Name(), err)
	}
	msg := strings.TrimSpace(string(out))
	if msg == "" {
		msg = s.Name() + ": " + path
	}
	s.SetMessage(msg + "\n")
	s.logger.Debug("engine probed", "binary", path, "message", msg)
	return nil
}

func (s *ShellGraph) Evaluate(ctx context.Context, code string, sink graph.Sink) error {
	dir, err := s.TmpDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, target, err := s.outputPaths()
	if err != nil {
		return err
	}

	pngFile, err := s.PNGFile()
	if err != nil {
		return err
	}
	epsFile, err := s.EPSPath()
	if err != nil {
		return err
	}
	vars := map[string]string{
		"{{png_file}}": pngFile,
		"{{eps_file}}": epsFile,
		"{{tmp_dir}}":  dir,
		"{{width}}":    strconv.Itoa(s.Width()),
		"{{height}}":   strconv.Itoa(s.Height()),
		"{{name}}":     s.Name(),
	}
	args := substituteArgs(s.flags, vars)

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, s.bin, args...)
	cmd.Stdin = strings.NewReader(code)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	var outF *os.File
	if namesOutput(s.flags) {
		cmd.Stdout = &stdout
	} else {
		outF, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		cmd.Stdout = outF
	}

	var stderr bytes.Buffer
	lw := output.NewLineWriter(func(line string) error {
		s.logger.Debug("engine stderr", "line", line)
		return sink.FlushVerbatim(line + "\n")
	})
	cmd.Stderr = io.MultiWriter(&stderr, lw)

	start := time.Now()
	s.logger.Debug("engine start", "cmd", formatCommand(s.bin, args))
	err = cmd.Run()
	if outF != nil {
		_ = outF.Close()
	}
	if fErr := lw.Flush(); fErr != nil && err == nil {
		err = fErr
	}
	s.logger.Debug("engine done", "duration", time.Since(start), "stdout_bytes", stdout.Len(), "stderr_bytes", stderr.Len())

	if err != nil {
		evalErr := &EvalError{Plugin: s.Name(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			evalErr.ExitCode = exitErr.ExitCode()
		}
		if runCtx.Err() != nil {
			evalErr.Err = fmt.Errorf("%w: %v", runCtx.Err(), err)
		}
		return evalErr
	}

	fi, err := os.Stat(file)
	if err != nil || fi.Size() == 0 {
		return &EvalError{Plugin: s.Name(), Err: fmt.Errorf("no %s output at %s", s.format, file)}
	}
	return sink.FlushFile(target)
}

// outputPaths returns the file the engine writes and the path handed to
// the host, which carries the size query. Any previous render at file is
// removed so a run that writes nothing is not mistaken for a fresh image.
func (s *ShellGraph) outputPaths() (file, target string, err error) {
	switch s.format {
	case FormatEPS:
		if file, err = s.EPSPath(); err != nil {
			return "", "", err
		}
		if err = s.RemoveStaleEPS(); err != nil {
			return "", "", err
		}
		target, err = s.EPS()
		return file, target, err
	default:
		if file, err = s.PNGFile(); err != nil {
			return "", "", err
		}
		target, err = s.PNGPath()
		return file, target, err
	}
}

// namesOutput reports whether the engine is told where to write. Engines
// such as asy take an output stem under {{tmp_dir}} and append the
// extension themselves.
func namesOutput(flags []string) bool {
	for _, f := range flags {
		for _, v := range outputVars {
			if strings.Contains(f, v) {
				return true
			}
		}
	}
	return false
}

var outputVars = []string{"{{png_file}}", "{{eps_file}}", "{{tmp_dir}}"}

func substituteArgs(args []string, vars map[string]string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s := a
		for k, v := range vars {
			s = strings.ReplaceAll(s, k, v)
		}
		out = append(out, s)
	}
	return out
}

func formatCommand(bin string, args []string) string {
	if len(args) == 0 {
		return bin
	}
	return bin + " " + strings.Join(args, " ")
}
