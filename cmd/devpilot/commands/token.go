package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/florianilch/devpilot/internal/app"
	"github.com/florianilch/devpilot/internal/tokenstore"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "manage stored tokens",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "store a value, read from stdin when omitted",
				ArgsUsage: "<key> [value]",
				Action:    withStore(tokenSetAction),
			},
			{
				Name:      "get",
				Usage:     "print a stored value",
				ArgsUsage: "<key>",
				Action:    withStore(tokenGetAction),
			},
			{
				Name:      "remove",
				Usage:     "delete a stored value",
				ArgsUsage: "<key>",
				Action:    withStore(tokenRemoveAction),
			},
			{
				Name:   "clear",
				Usage:  "delete all stored values",
				Action: withStore(tokenClearAction),
			},
			{
				Name:      "valid",
				Usage:     "report whether a value is stored and unexpired",
				ArgsUsage: "<key>",
				Action:    withStore(tokenValidAction),
			},
			{
				Name:      "extend",
				Usage:     "restart the lifetime of a stored value",
				ArgsUsage: "<key>",
				Action:    withStore(tokenExtendAction),
			},
			{
				Name:   "list",
				Usage:  "list stored keys",
				Action: withStore(tokenListAction),
			},
			{
				Name:   "keygen",
				Usage:  "print a new master key for env encryption",
				Action: tokenKeygenAction,
			},
		},
	}
}

type storeAction func(ctx context.Context, cmd *cli.Command, cfg *app.Config, store *tokenstore.Store) error

// withStore opens the configured token store around a subcommand.
func withStore(action storeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, shutdown, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer flushLogs(shutdown)

		store, err := app.OpenTokenStore(ctx, cfg.Tokens)
		if err != nil {
			return err
		}
		defer store.Close()

		return action(ctx, cmd, cfg, store)
	}
}

func keyArg(cmd *cli.Command) (string, error) {
	key := cmd.Args().First()
	if key == "" {
		return "", errors.New("missing key argument")
	}
	return key, nil
}

func tokenSetAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	key, err := keyArg(cmd)
	if err != nil {
		return err
	}

	value := cmd.Args().Get(1)
	if value == "" {
		if value, err = readSecret(cmd, key); err != nil {
			return err
		}
	}

	return store.Set(ctx, key, value)
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(cmd *cli.Command, key string) (string, error) {
	in := cmd.Root().Reader
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprintf(cmd.Root().ErrWriter, "Value for %s: ", key)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.Root().ErrWriter)
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func tokenGetAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	key, err := keyArg(cmd)
	if err != nil {
		return err
	}
	value, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, value)
	return err
}

func tokenRemoveAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	key, err := keyArg(cmd)
	if err != nil {
		return err
	}
	return store.Remove(ctx, key)
}

func tokenClearAction(ctx context.Context, _ *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	return store.Clear(ctx)
}

func tokenValidAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	key, err := keyArg(cmd)
	if err != nil {
		return err
	}
	valid, err := store.IsValid(ctx, key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, valid)
	return err
}

func tokenExtendAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	key, err := keyArg(cmd)
	if err != nil {
		return err
	}
	extended, err := store.Extend(ctx, key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, extended)
	return err
}

func tokenListAction(ctx context.Context, cmd *cli.Command, _ *app.Config, store *tokenstore.Store) error {
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := fmt.Fprintln(cmd.Root().Writer, key); err != nil {
			return err
		}
	}
	return nil
}

func tokenKeygenAction(_ context.Context, cmd *cli.Command) error {
	key, err := tokenstore.NewMasterKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, key)
	return err
}
