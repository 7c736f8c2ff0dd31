package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	// A missing .env is the common case.
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "scan":
		err = cmdScan(os.Args[2:])
	case "bridge":
		err = cmdBridge(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `unmock: make an Android framework jar usable on a plain JVM

Usage:
  unmock run    --source <jar> --out <jar> [rules]   Rewrite and package selected classes
  unmock scan   --source <jar> [rules] [--json]      List classes with their disposition
  unmock bridge --out <dir>                          Write only de/mobilej/ABridge.class

Rules:
  --keep <rule>               Keep rule: prefix, =exact or -excluded (repeatable)
  --keep-starting-with <p>    Prefix keep rule (repeatable)
  --rename <from=to>          Rename a class; the source class is kept (repeatable)
  --delegate <class>          Route every method of class through the bridge (repeatable)
  --config <file>             YAML rule file; flags add to its rules

Flags:
  --source-url <url>          Download the source archive when --source is unset
  --work <dir>                Working tree (default: <out dir>/unmock_work)
  --strict                    Fail on the first class error
  --force                     Rebuild even when the output is up to date
  --report <file>             Write a JSON run report
  --graph <file>              Write the rewrite graph as DOT
  --cfg-dir <dir>             Write per-class edit graphs as DOT
  --log-level <level>         DEBUG, INFO, WARN or ERROR

Environment (.env is loaded when present):
  UNMOCK_CACHE_DIR            Download cache directory
  UNMOCK_LOG_LEVEL            Default log level
`)
}
