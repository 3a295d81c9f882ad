package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/store/file"
)

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: "Export the snapshot as JSON (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := st.Load(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := file.Export(w, snap); err != nil {
				return fmt.Errorf("writing backup: %w", err)
			}
			slog.Info("Backup written", "users", len(snap.Users), "logs", len(snap.Logs))
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the stored snapshot with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			snap, err := file.Import(f)
			if err != nil {
				return err
			}

			st, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := st.Save(ctx, snap); err != nil {
				return fmt.Errorf("saving snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d users, %d custom models, %d log entries\n",
				len(snap.Users), len(snap.CustomModels), len(snap.Logs))
			return nil
		},
	}
}
