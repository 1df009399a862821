// Command bbuctl is the operator-facing CLI for the battery-backed
// cache: it places regions on a backing file, activates/deactivates
// caches over them, and reads/writes the config surface that mirrors the
// source driver's sysfs attributes.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nvbbu/bbucache/internal/logutil"
)

func main() {
	app := &cli.App{
		Name:  "bbuctl",
		Usage: "manage battery-backed write-back cache regions and instances",
		Commands: []*cli.Command{
			regionCommand(),
			cacheCommand(),
			serveCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logutil.Error("bbuctl failed", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
