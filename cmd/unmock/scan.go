package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"unmock/internal/logging"
	"unmock/internal/unmock"
)

func cmdScan(args []string) error {
	var opts scanOptions
	if err := parseArgs(&opts, args); err != nil {
		return err
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	log := logging.New(opts.LogLevel, os.Stderr)

	classes, err := unmock.Scan(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(classes)
	}

	counts := map[string]int{}
	for _, c := range classes {
		fmt.Printf("%-9s %s\n", c.Disposition, c.Class)
		counts[c.Disposition]++
	}
	fmt.Fprintf(os.Stderr, "%d classes: %d keep, %d delegate, %d excluded\n",
		len(classes), counts["keep"], counts["delegate"], counts["excluded"])
	return nil
}
