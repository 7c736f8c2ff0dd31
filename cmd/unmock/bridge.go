package main

import (
	"fmt"
	"os"

	"unmock/internal/unmock"
)

func cmdBridge(args []string) error {
	var opts bridgeOptions
	if err := parseArgs(&opts, args); err != nil {
		return err
	}
	path, err := unmock.WriteBridge(opts.Out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	return nil
}
