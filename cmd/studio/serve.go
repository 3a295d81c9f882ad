package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/config"
	"github.com/nstogner/studio/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl, closeStore, err := a.newController(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var static fs.FS
			if staticDir != "" {
				static = os.DirFS(staticDir)
			}
			srv := server.New(ctrl, static)

			errc := make(chan error, 1)
			go func() {
				errc <- srv.Start(a.cfg.Addr)
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			slog.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the built web UI")
	cmd.Flags().String("addr", a.v.GetString(config.KeyAddr), "listen address")
	_ = a.v.BindPFlag(config.KeyAddr, cmd.Flags().Lookup("addr"))
	return cmd
}
