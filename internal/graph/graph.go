package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

const tmpSubdir = "/system/tmp/"

var ErrNoHome = errors.New("home path not set")

// Sink receives what a plugin wants shown in the host session.
type Sink interface {
	FlushVerbatim(s string) error
	FlushPrompt(s string) error
	FlushFile(path string) error
}

type Graph struct {
	name    string
	home    string
	message string
	height  int
	width   int
}

func New(name, home string) *Graph {
	return &Graph{name: name, home: home}
}

func (g *Graph) Name() string    { return g.name }
func (g *Graph) Home() string    { return g.home }
func (g *Graph) Message() string { return g.message }
func (g *Graph) Height() int     { return g.height }
func (g *Graph) Width() int      { return g.width }

func (g *Graph) SetHeight(h int) { g.height = h }
func (g *Graph) SetWidth(w int)  { g.width = w }

func (g *Graph) SetMessage(m string) { g.message = m }

func (g *Graph) AppendMessage(m string) { g.message += m }

// Greet echoes every non-empty message line followed by a fresh prompt.
func (g *Graph) Greet(sink Sink) error {
	for _, line := range strings.Split(g.message, "\n") {
		if line == "" {
			continue
		}
		if err := sink.FlushVerbatim(line + "\n"); err != nil {
			return err
		}
		if err := sink.FlushPrompt(g.Prompt()); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) Prompt() string { return g.name + "] " }

func (g *Graph) Available() bool { return len(g.message) > 0 }

// Evaluate does nothing; engine-backed plugins provide their own.
func (g *Graph) Evaluate(ctx context.Context, code string, sink Sink) error {
	return nil
}

func (g *Graph) TmpDir() (string, error) {
	if g.home == "" {
		return "", ErrNoHome
	}
	return g.home + tmpSubdir, nil
}

// Size is the query suffix the host renderer reads image dimensions from.
func (g *Graph) Size() string {
	return fmt.Sprintf("?width=%d&height=%d", g.width, g.height)
}

func (g *Graph) PNGFile() (string, error) {
	dir, err := g.TmpDir()
	if err != nil {
		return "", err
	}
	return dir + g.name + ".png", nil
}

// RemoveStalePNG deletes a previous render so the engine can write a fresh one.
func (g *Graph) RemoveStalePNG() error {
	png, err := g.PNGFile()
	if err != nil {
		return err
	}
	return removeStale(png, "png")
}

// RemoveStaleEPS is the EPS counterpart of RemoveStalePNG. EPS and EPSPath
// never call it.
func (g *Graph) RemoveStaleEPS() error {
	eps, err := g.EPSPath()
	if err != nil {
		return err
	}
	return removeStale(eps, "eps")
}

// removeStale removes a regular file at path. A missing file or a
// non-regular one is left alone.
func removeStale(path, kind string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale %s: %w", kind, err)
	}
	return nil
}

// PNGPath returns the PNG path with its size query and removes any file
// already present at that location.
func (g *Graph) PNGPath() (string, error) {
	png, err := g.PNGFile()
	if err != nil {
		return "", err
	}
	if err := g.RemoveStalePNG(); err != nil {
		return "", err
	}
	return png + g.Size(), nil
}

func (g *Graph) EPSPath() (string, error) {
	dir, err := g.TmpDir()
	if err != nil {
		return "", err
	}
	return dir + g.name + ".eps", nil
}

func (g *Graph) EPS() (string, error) {
	eps, err := g.EPSPath()
	if err != nil {
		return "", err
	}
	return eps + g.Size(), nil
}
