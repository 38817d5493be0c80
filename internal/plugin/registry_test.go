package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skuntir.com/GraphBridge/internal/graph"
	"skuntir.com/GraphBridge/internal/plugin"
)

func TestRegistry_LookupAndListing(t *testing.T) {
	reg := plugin.NewRegistry()

	dot := graph.New("dot", "/h")
	dot.SetMessage("graphviz\n")
	reg.Register(dot)
	reg.Register(graph.New("gnuplot", "/h"))
	reg.Register(graph.New("asy", "/h"))

	assert.Equal(t, []string{"asy", "dot", "gnuplot"}, reg.Names())
	assert.Equal(t, []string{"dot"}, reg.Available())

	p, ok := reg.Get("dot")
	require.True(t, ok)
	assert.Equal(t, "dot] ", p.Prompt())

	_, err := reg.Lookup("maxima")
	require.ErrorIs(t, err, plugin.ErrUnknownPlugin)
	assert.Contains(t, err.Error(), "maxima")
}

func TestRegistry_RegisterReplacesByName(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(graph.New("dot", "/a"))

	replacement := graph.New("dot", "/b")
	reg.Register(replacement)

	p, err := reg.Lookup("dot")
	require.NoError(t, err)
	assert.Same(t, replacement, p)
	assert.Len(t, reg.Names(), 1)
}
