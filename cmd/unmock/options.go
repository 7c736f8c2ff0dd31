package main

import (
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"unmock/internal/config"
	"unmock/internal/diag"
	"unmock/internal/unmock"
)

// RuleOptions are shared by every subcommand that reads the source archive.
// --keep and --keep-starting-with feed one list in command-line order, since
// the first matching keep rule decides.
type RuleOptions struct {
	Source           string       `long:"source" description:"source archive"`
	SourceURL        string       `long:"source-url" description:"source archive URL, downloaded into the cache"`
	Keep             func(string) `long:"keep" description:"keep rule (prefix, =exact or -excluded)"`
	KeepStartingWith func(string) `long:"keep-starting-with" description:"prefix keep rule"`
	Rename           []string     `long:"rename" description:"from=to class rename"`
	Delegate         []string     `long:"delegate" description:"delegate class"`
	Config           string       `short:"c" long:"config" description:"YAML rule file"`
	CacheDir         string       `long:"cache-dir" env:"UNMOCK_CACHE_DIR" description:"download cache directory"`
	LogLevel         string       `long:"log-level" env:"UNMOCK_LOG_LEVEL" default:"INFO" description:"log level"`

	keep []string
}

func (o *RuleOptions) bindRules() {
	o.keep = nil
	add := func(rule string) { o.keep = append(o.keep, rule) }
	o.Keep, o.KeepStartingWith = add, add
}

type runOptions struct {
	RuleOptions
	Out    string `long:"out" description:"output archive"`
	Work   string `long:"work" description:"working tree"`
	Strict bool   `long:"strict" description:"fail on the first class error"`
	Force  bool   `long:"force" description:"ignore the up-to-date stamp"`
	Report string `long:"report" description:"JSON run report"`
	Graph  string `long:"graph" description:"rewrite graph DOT file"`
	CFGDir string `long:"cfg-dir" description:"per-class edit graph directory"`
}

type scanOptions struct {
	RuleOptions
	JSON bool `long:"json" description:"output as JSON"`
}

type bridgeOptions struct {
	Out string `long:"out" required:"true" description:"output directory"`
}

func parseArgs(opts any, args []string) error {
	if r, ok := opts.(interface{ bindRules() }); ok {
		r.bindRules()
	}
	rest, err := flags.ParseArgs(opts, args)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return errors.Errorf("unexpected arguments: %v", rest)
	}
	return nil
}

// config merges the rule file, when given, with the flags. Flag rules come
// after file rules; scalar flags override file values.
func (o *RuleOptions) config() (unmock.Config, error) {
	cfg := unmock.Config{Source: o.Source, SourceURL: o.SourceURL, CacheDir: o.CacheDir}
	if o.Config != "" {
		file, err := config.Load(o.Config)
		if err != nil {
			return cfg, err
		}
		cfg.Keep = file.KeepRules()
		cfg.Renames = append(cfg.Renames, file.KeepAndRename...)
		cfg.Delegate = append(cfg.Delegate, file.DelegateClass...)
		if cfg.Source == "" {
			cfg.Source = file.Source
		}
		if cfg.SourceURL == "" {
			cfg.SourceURL = file.SourceURL
		}
		cfg.Out, cfg.Work = file.Out, file.Work
	}
	cfg.Keep = append(cfg.Keep, o.keep...)
	cfg.Renames = append(cfg.Renames, o.Rename...)
	cfg.Delegate = append(cfg.Delegate, o.Delegate...)
	if cfg.Source == "" && cfg.SourceURL == "" {
		return cfg, errors.New("--source or --source-url is required")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".cache", "unmock")
	}
	return cfg, nil
}

func (o *runOptions) config() (unmock.Config, error) {
	cfg, err := o.RuleOptions.config()
	if err != nil {
		return cfg, err
	}
	if o.Out != "" {
		cfg.Out = o.Out
	}
	if o.Work != "" {
		cfg.Work = o.Work
	}
	if cfg.Out == "" {
		return cfg, errors.New("--out is required")
	}
	if cfg.Work == "" {
		cfg.Work = filepath.Join(filepath.Dir(cfg.Out), "unmock_work")
	}
	if o.Strict {
		cfg.Mode = diag.ModeStrict
	}
	cfg.Force = o.Force
	cfg.Report, cfg.Graph, cfg.CFGDir = o.Report, o.Graph, o.CFGDir
	return cfg, nil
}
