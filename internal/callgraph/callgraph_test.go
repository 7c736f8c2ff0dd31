package callgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zboralski/lattice/render"

	"unmock/internal/rewrite"
)

func sampleResults() []*rewrite.Result {
	return []*rewrite.Result{
		{
			Class: "android.os.Parcel",
			Events: []rewrite.Event{
				{Method: "android.os.Parcel.nativeReadInt(long)", Target: "de.mobilej.ABridge.callInt", Kind: rewrite.EventDelegate},
				{Method: "android.os.Parcel.nativeReadLong(long)", Target: "de.mobilej.ABridge.callLong", Kind: rewrite.EventDelegate},
			},
		},
		{
			Class: "android.util.Buffers",
			Events: []rewrite.Event{
				{Method: "android.util.Buffers.grow(int)", Target: "dalvik.system.VMRuntime.getRuntime", Kind: rewrite.EventNull},
				{Method: "android.util.Buffers.grow(int)", Target: "dalvik.system.VMRuntime.newUnpaddedArray", Kind: rewrite.EventRedirect},
				{Method: "android.util.Buffers.grow(int)", Target: "dalvik.system.VMRuntime.getRuntime", Kind: rewrite.EventNull},
			},
		},
		{Class: "a.Listener", Skipped: true, Events: []rewrite.Event{{Method: "x", Target: "y"}}},
		nil,
	}
}

func TestBuildRewriteGraph(t *testing.T) {
	g := BuildRewriteGraph(sampleResults())

	assert.Len(t, g.Nodes, 7)
	assert.Len(t, g.Edges, 4, "duplicate call-site edges collapse")
	assert.NotContains(t, g.Nodes, "x")

	dot := render.DOT(g, "unmock rewrite graph")
	assert.NotEmpty(t, dot)
	assert.True(t, strings.Contains(dot, "callLong"))
}

func TestBuildClassCFG(t *testing.T) {
	cg := BuildClassCFG(sampleResults()[1])
	require.Len(t, cg.Funcs, 1)
	f := cg.Funcs[0]
	assert.Equal(t, "android.util.Buffers.grow(int)", f.Name)
	require.Len(t, f.Blocks, 1)
	require.Len(t, f.Blocks[0].Calls, 3)
	assert.Equal(t, "dalvik.system.VMRuntime.getRuntime => null", f.Blocks[0].Calls[0].Callee)
	assert.Equal(t, 2, f.Blocks[0].Calls[2].Offset)

	assert.NotEmpty(t, render.DOTCFG(cg, "android.util.Buffers"))
	assert.Empty(t, BuildClassCFG(sampleResults()[2]).Funcs)
}
