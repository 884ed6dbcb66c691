package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lightlink/cmd/internal/app"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/store"
)

// newRootCommand builds the lightlink CLI. Running it without a subcommand serves.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lightlink",
		Short:         "Lightlink realtime presence, messaging and call server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVAPIDCommand())
	cmd.AddCommand(newSnapshotCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Long: `Run the server using the YAML file named by LIGHTLINK_CONFIG
and LIGHTLINK_* environment overrides.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	return app.Run(cmd.Context(), cfg)
}

func newVAPIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Manage Web Push VAPID keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new VAPID key pair as environment assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := notify.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate vapid keys: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "LIGHTLINK_VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "LIGHTLINK_VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configured VAPID key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := notify.CheckVAPIDKeys(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vapid keys ok (subject %s)\n", cfg.VAPIDSubject)
			return nil
		},
	})
	return cmd
}

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect persisted state snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Load and validate a snapshot file",
		Long: `Load a JSON snapshot and report what it holds.
Without an argument the configured data file is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := app.LoadConfig()
				if err != nil {
					return err
				}
				path = cfg.DataFile
			}
			return checkSnapshot(cmd, path)
		},
	})
	return cmd
}

func checkSnapshot(cmd *cobra.Command, path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("snapshot path is empty")
	}
	snap, err := store.NewFileSnapshotter(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := snap.Load(ctx)
	if err != nil {
		return fmt.Errorf("read %s: %w", snap.Path(), err)
	}
	if data == nil {
		return fmt.Errorf("%s: no snapshot", snap.Path())
	}

	st, err := store.DecodeState(data)
	if err != nil {
		return fmt.Errorf("%s: %w", snap.Path(), err)
	}

	messages := 0
	for _, t := range st.Direct {
		messages += len(t.Messages)
	}
	for _, g := range st.Groups {
		messages += len(g.Messages)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"%s: identities=%d direct=%d groups=%d spaces=%d messages=%d bans=%d reports=%d\n",
		snap.Path(), len(st.Identities), len(st.Direct), len(st.Groups), len(st.Spaces),
		messages, len(st.Bans), len(st.Reports),
	)
	return nil
}
