package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cl4nyz/elevadores-updater/internal/server"
	"github.com/cl4nyz/elevadores-updater/internal/update"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the update endpoints over HTTP",
		Long: `Serve exposes the updater to the web application:

  GET  /api/update/check     latest release versus installed version
  POST /api/update/apply     run an update (optionally pinned by the body)
  GET  /api/update/status    pipeline state and last result
  GET  /api/update/history   recorded attempts
  GET  /health

With server.exit_after_update set, the server stops after a successful
update so the process supervisor restarts the application.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from config)")

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if addr == "" {
		addr = e.cfg.Server.Addr
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if e.history != nil {
		opts = append(opts, server.WithHistory(e.history))
	}
	if e.cfg.Server.ExitAfterUpdate {
		opts = append(opts, server.WithOnApplied(func(res *update.Result) {
			logger.Info("update applied, stopping for restart", "id", res.ID, "version", res.ToVersion)
			stop()
		}))
	}

	logger.Info("serving updater", "install_dir", e.cfg.InstallDir, "version", e.store.Read())
	return server.New(e.manager, opts...).Run(ctx, addr)
}
