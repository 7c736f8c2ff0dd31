package main

import (
	"context"
	"fmt"
	"os"

	"unmock/internal/logging"
	"unmock/internal/unmock"
)

func cmdRun(args []string) error {
	var opts runOptions
	if err := parseArgs(&opts, args); err != nil {
		return err
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	log := logging.New(opts.LogLevel, os.Stderr)

	res, err := unmock.Run(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	r := res.Report
	if r.UpToDate {
		fmt.Fprintf(os.Stderr, "%s is up to date\n", cfg.Out)
		return nil
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d kept, %d delegated, %d resources)\n",
		cfg.Out, r.Kept, r.Delegated, r.Resources)
	if len(r.Suspect) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d suspect classes:\n", len(r.Suspect))
		for _, s := range r.Suspect {
			fmt.Fprintf(os.Stderr, "  %s\n", s)
		}
	}
	return nil
}
