package commands

import (
	"context"
	"fmt"

	"github.com/florianilch/devpilot/internal/app"
	"github.com/florianilch/devpilot/internal/tokenstore"
	"github.com/urfave/cli/v3"
)

func creditsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credits",
		Usage: "show remaining account credits",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "remote--base-url",
				Usage: "remote API base URL",
				Value: app.DefaultConfigRemoteBaseURL,
			},
			&cli.StringFlag{
				Name:  "remote--token-url",
				Usage: "OAuth token endpoint",
				Value: app.DefaultConfigRemoteTokenURL,
			},
		},
		Action: withStore(creditsAction),
	}
}

func creditsAction(ctx context.Context, cmd *cli.Command, cfg *app.Config, store *tokenstore.Store) error {
	client, err := app.NewAPIClient(cfg.Remote, store)
	if err != nil {
		return err
	}

	credits, err := client.Credits(ctx)
	if err != nil {
		return fmt.Errorf("fetching credits: %w", err)
	}

	_, err = fmt.Fprintf(cmd.Root().Writer, "remaining: %g\nused: %g\n", credits.Remaining, credits.Used)
	return err
}
