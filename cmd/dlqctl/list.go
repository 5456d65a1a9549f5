package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pipelinekit/orchestrator/pkg/models"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List dead-letter entries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status: pending, investigating, reprocessed, resolved",
				Value: string(models.DLQStatusPending),
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries to return",
				Value: 50,
			},
		},
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	ctx := context.Background()
	tk, err := newToolkit(ctx, c.String("config-dir"))
	if err != nil {
		return err
	}
	defer tk.close()

	entries, err := tk.admin.List(ctx, models.DLQStatus(c.String("status")), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("list dead-letter entries: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
