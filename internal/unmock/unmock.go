// Package unmock runs the whole pipeline: select classes from the source
// archive, rewrite them, stage them with their resources in a working tree
// and pack the tree into the output archive.
//
// Every selected class is rewritten in memory before any class is
// serialized. Serializing a class freezes it, so an outer class must not hit
// the disk while one of its nested classes may still need edits.
package unmock

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"unmock/internal/bridge"
	"unmock/internal/classfile"
	"unmock/internal/diag"
	"unmock/internal/fetch"
	"unmock/internal/jar"
	"unmock/internal/output"
	"unmock/internal/rewrite"
	"unmock/internal/rules"
)

// ErrNoSource reports a configuration without a source archive.
var ErrNoSource = errors.New("unmock: no source archive configured")

// ErrWorkTree reports a failure to write the working tree. It ends the run in
// every mode.
var ErrWorkTree = errors.New("unmock: working tree")

// superCacheSize bounds the parsed superclasses kept for constructor checks.
const superCacheSize = 1024

// Config describes one run.
type Config struct {
	Source    string // local source archive; fetched from SourceURL when empty
	SourceURL string
	CacheDir  string // download cache, defaults to the working tree's parent
	Out       string
	Work      string

	Keep     []string
	Renames  []string // "from=to"
	Delegate []string

	Mode  diag.Mode
	Force bool // ignore the up-to-date stamp

	Report string // JSON report path
	Graph  string // rewrite graph DOT path
	CFGDir string // per-class edit summaries
}

// Result is the outcome of a run.
type Result struct {
	Report *output.Report
	Diags  *diag.Diags
}

// pending is a rewritten class waiting for the serialization phase.
type pending struct {
	name string // dotted name before renaming
	cls  *classfile.Class
	res  *rewrite.Result
	raw  []byte // unparseable classes are copied verbatim
}

// Run executes the pipeline.
func Run(ctx context.Context, cfg Config, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.Out == "" || cfg.Work == "" {
		return nil, errors.New("unmock: output archive and working directory are required")
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Dir(filepath.Clean(cfg.Work))
	}
	fs := fetch.New(cacheDir, log)

	source, err := resolveSource(ctx, cfg, fs)
	if err != nil {
		return nil, err
	}

	report := &output.Report{Source: source, Output: cfg.Out}
	result := &Result{Report: report, Diags: &diag.Diags{}}

	fp, err := fingerprint(cfg, source)
	if err != nil {
		return nil, errors.Wrapf(jar.ErrArchiveRead, "%s: %v", source, err)
	}
	if !cfg.Force && upToDate(cfg.Out, fp) {
		log.Info("output up to date", "out", cfg.Out)
		report.UpToDate = true
		return result, nil
	}

	if err := fs.ResetDir(ctx, cfg.Work); err != nil {
		return nil, err
	}

	archive, err := jar.Open(source)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	mappings, errs := rules.ParseRenames(cfg.Renames)
	for _, e := range errs {
		log.Warn("ignoring rename directive", "err", e)
		result.Diags.Add("rename", diag.KindRuleParse, e.Error())
	}
	sel := rules.NewSelector(rules.KeepWithRenames(cfg.Keep, mappings), cfg.Delegate)

	stub, err := bridge.Synthesize()
	if err != nil {
		return nil, errors.Wrap(err, "unmock: bridge")
	}

	dispositions := sel.ClassifyAll(archive.Classes())
	kept := rules.Select(dispositions, rules.Keep)
	delegated := rules.Select(dispositions, rules.Delegate)
	report.Classes = len(dispositions)
	report.Kept = len(kept)
	report.Delegated = len(delegated)
	report.Excluded = report.Classes - report.Kept - report.Delegated
	log.Info("classified", "classes", report.Classes, "kept", report.Kept,
		"delegated", report.Delegated, "excluded", report.Excluded)

	// Mutation phase.
	supers, err := newArchiveClasses(archive, superCacheSize)
	if err != nil {
		return nil, err
	}
	rw := rewrite.New(rewrite.Options{Logger: log, Supers: supers})
	var work []*pending
	for _, name := range jar.Sorted(append(kept, delegated...)) {
		p, err := mutate(archive, rw, name, dispositions[name], mappings, result.Diags, log)
		if err != nil && cfg.Mode == diag.ModeStrict {
			return nil, err
		}
		if p.res != nil {
			if p.res.Skipped {
				report.Skipped++
			}
			report.Results = append(report.Results, p.res)
		}
		work = append(work, p)
	}

	// Serialization phase: the bridge first, since rewritten bodies name it.
	if err := writeClass(cfg.Work, bridge.ClassName, stub); err != nil {
		return nil, err
	}
	n, err := serializeAll(cfg.Work, work, cfg.Mode, result.Diags, log)
	if err != nil {
		return nil, err
	}
	written := n + 1
	log.Info("wrote classes", "dir", cfg.Work, "count", written)

	n, err = jar.CopyResources(archive, archive.Resources(), sel.ResourcePrefixes(), cfg.Work)
	if err != nil {
		return nil, err
	}
	report.Resources = n

	if err := jar.Pack(cfg.Work, cfg.Out); err != nil {
		return nil, err
	}
	log.Info("wrote archive", "path", cfg.Out, "classes", written, "resources", n)
	if err := writeStamp(cfg.Out, fp); err != nil {
		return nil, err
	}

	report.Suspect = suspects(result.Diags)
	report.Diagnostics = result.Diags.Items()
	if err := writeArtifacts(cfg, report, log); err != nil {
		return nil, err
	}
	return result, nil
}

func resolveSource(ctx context.Context, cfg Config, fs *fetch.Service) (string, error) {
	if cfg.Source != "" {
		return cfg.Source, nil
	}
	if cfg.SourceURL == "" {
		return "", ErrNoSource
	}
	return fs.Fetch(ctx, cfg.SourceURL)
}

// mutate parses and rewrites one class. The returned pending is always
// usable: a class that failed to rewrite is still serialized as it stands.
func mutate(a *jar.Archive, rw *rewrite.Rewriter, name string, disp rules.Disposition, mappings []rules.Mapping, diags *diag.Diags, log *slog.Logger) (*pending, error) {
	p := &pending{name: name}
	data, err := a.ReadClass(name)
	if err != nil {
		diags.Add(name, diag.KindClassRead, err.Error())
		log.Warn("cannot read class", "class", name, "err", err)
		return p, err
	}
	cls, err := classfile.Parse(data)
	if err != nil {
		p.raw = data
		diags.Add(name, diag.KindClassRead, err.Error())
		log.Warn("cannot parse class, copying it unchanged", "class", name, "err", err)
		return p, errors.Wrap(err, name)
	}
	p.cls = cls
	p.res, err = rw.Rewrite(cls, disp, mappings)
	if err != nil {
		kind := diag.KindClassRewrite
		if errors.Is(err, rewrite.ErrCallSite) {
			kind = diag.KindCallSite
		}
		diags.Add(name, kind, err.Error())
		log.Warn("class rewrite failed, keeping partial rewrite", "class", name, "kind", kind, "err", err)
		return p, err
	}
	return p, nil
}

// suspects lists the classes whose output may differ from a clean rewrite.
func suspects(d *diag.Diags) []string {
	var out []string
	for _, k := range []diag.Kind{diag.KindClassRewrite, diag.KindCallSite, diag.KindClassRead} {
		out = append(out, d.Subjects(k)...)
	}
	return out
}

// serializeAll writes every pending class and returns how many were written.
// A class that fails to encode is a class diagnostic in best-effort mode;
// a working tree write failure always ends the run.
func serializeAll(dir string, work []*pending, mode diag.Mode, diags *diag.Diags, log *slog.Logger) (int, error) {
	written := 0
	for _, p := range work {
		err := serialize(dir, p)
		switch {
		case err == nil:
			written++
		case errors.Is(err, ErrWorkTree) || mode == diag.ModeStrict:
			return written, err
		default:
			log.Warn("class not written", "class", p.name, "err", err)
			diags.Add(p.name, diag.KindClassRewrite, err.Error())
		}
	}
	return written, nil
}

func serialize(dir string, p *pending) error {
	switch {
	case p.cls != nil:
		return writeClass(dir, p.cls.Name(), p.cls)
	case p.raw != nil:
		return writeFile(filepath.Join(dir, filepath.FromSlash(jar.EntryName(p.name))), p.raw)
	}
	return nil
}

func writeClass(dir, internal string, cls *classfile.Class) error {
	data, err := cls.Encode()
	if err != nil {
		return errors.Wrapf(err, "unmock: encode %s", classfile.DottedName(internal))
	}
	return writeFile(filepath.Join(dir, filepath.FromSlash(internal)+".class"), data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(ErrWorkTree, "%s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(ErrWorkTree, "%s: %v", path, err)
	}
	return nil
}

func writeArtifacts(cfg Config, report *output.Report, log *slog.Logger) error {
	if cfg.Report != "" {
		if err := output.WriteReportJSON(cfg.Report, report); err != nil {
			return err
		}
		log.Info("wrote report", "path", cfg.Report)
	}
	if cfg.Graph != "" {
		g, err := output.WriteGraphDOT(cfg.Graph, "unmock rewrites", report.Results)
		if err != nil {
			return err
		}
		log.Info("wrote graph", "path", cfg.Graph, "nodes", len(g.Nodes), "edges", len(g.Edges))
	}
	if cfg.CFGDir != "" {
		n := 0
		for _, r := range report.Results {
			ok, err := output.WriteClassCFG(cfg.CFGDir, r)
			if err != nil {
				return err
			}
			if ok {
				n++
			}
		}
		log.Info("wrote class graphs", "dir", filepath.Join(cfg.CFGDir, "cfg"), "count", n)
	}
	return nil
}

// Classification is one class of the source archive and the disposition the
// rules assign to it.
type Classification struct {
	Class       string `json:"class"`
	Disposition string `json:"disposition"`
}

// Scan classifies every class of the source archive without writing anything.
func Scan(ctx context.Context, cfg Config, log *slog.Logger) ([]Classification, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	source, err := resolveSource(ctx, cfg, fetch.New(cfg.CacheDir, log))
	if err != nil {
		return nil, err
	}
	archive, err := jar.Open(source)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	mappings, errs := rules.ParseRenames(cfg.Renames)
	for _, e := range errs {
		log.Warn("ignoring rename directive", "err", e)
	}
	sel := rules.NewSelector(rules.KeepWithRenames(cfg.Keep, mappings), cfg.Delegate)
	all := sel.ClassifyAll(archive.Classes())
	out := make([]Classification, 0, len(all))
	for _, name := range jar.Sorted(archive.Classes()) {
		out = append(out, Classification{Class: name, Disposition: all[name].String()})
	}
	return out, nil
}

// WriteBridge writes only the bridge class under dir and returns its path.
func WriteBridge(dir string) (string, error) {
	stub, err := bridge.Synthesize()
	if err != nil {
		return "", errors.Wrap(err, "unmock: bridge")
	}
	if err := writeClass(dir, bridge.ClassName, stub); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(bridge.ClassName)+".class"), nil
}
