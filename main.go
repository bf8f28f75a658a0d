package main

import (
	"os"

	"github.com/rvtx-labs/rvtx/internal/cli"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

// version, commit, and date are set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		os.Exit(fault.ExitCode(err))
	}
}
