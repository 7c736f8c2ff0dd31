// Package output writes run reports and rewrite graphs.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"unmock/internal/callgraph"
	"unmock/internal/diag"
	"unmock/internal/rewrite"
)

// Report summarizes one run.
type Report struct {
	Source      string            `json:"source"`
	Output      string            `json:"output"`
	UpToDate    bool              `json:"up_to_date,omitempty"`
	Classes     int               `json:"classes"`
	Kept        int               `json:"kept"`
	Delegated   int               `json:"delegated"`
	Excluded    int               `json:"excluded"`
	Skipped     int               `json:"skipped"` // interfaces
	Resources   int               `json:"resources"`
	Suspect     []string          `json:"suspect,omitempty"`
	Diagnostics []diag.Diag       `json:"diagnostics,omitempty"`
	Results     []*rewrite.Result `json:"results,omitempty"`
}

// WriteReportJSON writes the report as indented JSON.
func WriteReportJSON(path string, r *Report) error {
	return writeJSON(path, r)
}

// WriteGraphDOT renders the rewrite graph of results and writes it as DOT.
func WriteGraphDOT(path, title string, results []*rewrite.Result) (*lattice.Graph, error) {
	g := callgraph.BuildRewriteGraph(results)
	if err := writeFile(path, []byte(render.DOT(g, title))); err != nil {
		return nil, err
	}
	return g, nil
}

// WriteClassCFG writes the per-method edit summary of one class as DOT under
// dir/cfg/<class>.dot. Classes without edits are not written.
func WriteClassCFG(dir string, r *rewrite.Result) (bool, error) {
	cg := callgraph.BuildClassCFG(r)
	if len(cg.Funcs) == 0 {
		return false, nil
	}
	path := filepath.Join(dir, "cfg", r.Class+".dot")
	return true, writeFile(path, []byte(render.DOTCFG(cg, r.Class)))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
