package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/florianilch/devpilot/internal/projectfiles"
	"github.com/urfave/cli/v3"
)

func filesCommand() *cli.Command {
	return &cli.Command{
		Name:      "files",
		Usage:     "list source files of a project",
		ArgsUsage: "<root>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "keep running and print file changes as JSON lines",
			},
		},
		Action: filesAction,
	}
}

func filesAction(ctx context.Context, cmd *cli.Command) error {
	root := cmd.Args().First()
	if root == "" {
		return errors.New("missing root argument")
	}

	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flushLogs(shutdown)

	lister := cfg.Projects.NewLister()
	out := cmd.Root().Writer

	if cmd.Bool("watch") {
		enc := json.NewEncoder(out)
		return lister.Watch(ctx, root, func(e projectfiles.Event) {
			_ = enc.Encode(e)
		})
	}

	files, err := lister.List(ctx, root)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := fmt.Fprintln(out, f); err != nil {
			return err
		}
	}
	return nil
}
