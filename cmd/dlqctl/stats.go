package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show dead-letter queue counts by error type and service",
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	ctx := context.Background()
	tk, err := newToolkit(ctx, c.String("config-dir"))
	if err != nil {
		return err
	}
	defer tk.close()

	stats, err := tk.admin.Stats(ctx)
	if err != nil {
		return fmt.Errorf("compute dead-letter stats: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
