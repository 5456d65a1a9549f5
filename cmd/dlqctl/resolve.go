package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Mark a dead-letter entry resolved without reprocessing it",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "resolved-by",
				Usage:    "Principal id of the operator resolving this entry",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "notes",
				Usage: "Free-text resolution notes",
			},
		},
		Action: resolveAction,
	}
}

func resolveAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("resolve requires a dead-letter entry id", 1)
	}

	ctx := context.Background()
	tk, err := newToolkit(ctx, c.String("config-dir"))
	if err != nil {
		return err
	}
	defer tk.close()

	if err := tk.admin.Resolve(ctx, id, c.String("resolved-by"), c.String("notes")); err != nil {
		return fmt.Errorf("resolve dead-letter entry %s: %w", id, err)
	}
	fmt.Printf("resolved %s\n", id)
	return nil
}
