package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pipelinekit/orchestrator/pkg/kernelerrors"
	"github.com/pipelinekit/orchestrator/pkg/services"
)

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Replay a captured dead-letter entry's input through a fresh run",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "principal-id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "tenant-id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "requester-id",
				Usage: "Operator id to attribute this reprocess to",
			},
		},
		Action: reprocessAction,
	}
}

func reprocessAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("reprocess requires a dead-letter entry id", 1)
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
		return fmt.Errorf("load dead-letter entry %s: %w", id, err)
	}
	pipelineCfg, err := tk.cfg.GetPipeline(view.Input.Topology)
	if err != nil {
		return fmt.Errorf("unknown topology %s for dead-letter entry %s: %w", view.Input.Topology, id, err)
	}
	ports, err := tk.reprocessPorts(pipelineCfg)
	if err != nil {
		return err
	}

	runID := services.NewRunID()
	result, startErr := tk.controller().ReplayFromEntry(ctx, view.DeadLetterEntry, runID, ports,
		c.String("principal-id"), c.String("tenant-id"), c.String("requester-id"))

	if markErr := tk.admin.MarkReprocessed(ctx, id, startErr == nil); markErr != nil {
		fmt.Printf("warning: failed to record reprocess outcome: %v\n", markErr)
	}
	if startErr != nil {
		return fmt.Errorf("reprocess dead-letter entry %s: %w", id, startErr)
	}

	fmt.Printf("reprocessed %s as run %s: status=%s\n", id, runID, result.Status)
	return nil
}
