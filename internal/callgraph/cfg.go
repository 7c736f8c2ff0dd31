package callgraph

import (
	"github.com/zboralski/lattice"

	"unmock/internal/rewrite"
)

// BuildClassCFG builds one lattice.FuncCFG per rewritten method of a class.
// A method becomes a single block listing its edits in the order they were
// made, so the rendered graph reads as a per-class summary.
func BuildClassCFG(r *rewrite.Result) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	if r == nil || r.Skipped {
		return cg
	}
	byMethod := map[string]*lattice.FuncCFG{}
	for _, ev := range r.Events {
		f, ok := byMethod[ev.Method]
		if !ok {
			f = &lattice.FuncCFG{Name: ev.Method}
			f.Blocks = append(f.Blocks, &lattice.BasicBlock{ID: 0, Start: 0, End: 1, Term: true})
			byMethod[ev.Method] = f
			cg.Funcs = append(cg.Funcs, f)
		}
		b := f.Blocks[0]
		b.Calls = append(b.Calls, lattice.CallSite{
			Offset: len(b.Calls),
			Callee: label(ev),
		})
	}
	return cg
}

func label(ev rewrite.Event) string {
	switch ev.Kind {
	case rewrite.EventNull:
		return ev.Target + " => null"
	case rewrite.EventRedirect:
		return ev.Target + " => bridge"
	}
	return ev.Target
}
