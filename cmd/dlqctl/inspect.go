package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show one dead-letter entry's full detail, including its decoded input and context snapshot",
		ArgsUsage: "<id>",
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("inspect requires a dead-letter entry id", 1)
	}

	ctx := context.Background()
	tk, err := newToolkit(ctx, c.String("config-dir"))
	if err != nil {
		return err
	}
	defer tk.close()

	view, err := tk.admin.Inspect(ctx, id)
	if err != nil {
		if errors.Is(err, kernelerrors.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("dead-letter entry %s not found", id), 1)
		}
		return fmt.Errorf("inspect dead-letter entry %s: %w", id, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
