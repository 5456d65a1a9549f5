// Command dlqctl is the operator CLI for the dead-letter queue: list,
// inspect, resolve, reprocess, and statistics, over the same
// config/database wiring as cmd/orchestratord.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "dlqctl",
		Usage: "Dead-letter queue admin CLI for the orchestration kernel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				EnvVars: []string{"CONFIG_DIR"},
				Value:   "./deploy/config",
				Usage:   "Path to configuration directory",
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			statsCommand(),
			inspectCommand(),
			resolveCommand(),
			reprocessCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
