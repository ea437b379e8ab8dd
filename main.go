package main

import (
	"context"
	"fmt"
	"os"

	"modelhub_back/cli"
)

var (
	version = "0.1.0-dev"
	commit  = "main"
)

func main() {
	if err := cli.Execute(context.Background(), cli.VersionInfo{Version: version, Commit: commit}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
