package plugin

import (
	"context"
	"errors"

	"skuntir.com/GraphBridge/internal/graph"
)

var ErrUnknownPlugin = errors.New("unknown plugin")

// Plugin is one graph engine bound to a host session. *graph.Graph
// satisfies it with an Evaluate that does nothing.
type Plugin interface {
	Name() string
	Prompt() string
	Greet(sink graph.Sink) error
	Available() bool
	Evaluate(ctx context.Context, code string, sink graph.Sink) error
}

var _ Plugin = (*graph.Graph)(nil)
