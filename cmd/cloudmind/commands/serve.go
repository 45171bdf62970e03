package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JasonTeixeira/Cloudmind-sub000/internal/app"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/api"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the scan API. Scans run in the background and are polled by id.

Jobs left running by a previous process are marked failed on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger()
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version.Current)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		demo, _ := cmd.Flags().GetBool("mock")
		a, err := app.Build(ctx, cfg, app.Options{Logger: logger, Demo: demo})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
			}
		}()

		n, err := a.Engine.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover interrupted scans: %w", err)
		}
		if n > 0 {
			logger.Info("recovered interrupted scans", "count", n)
		}

		srv := api.NewServer(a.Engine, a.Store,
			api.WithLogger(logger),
			api.WithAllowedOrigins(cfg.Server.CORSOrigins),
			api.WithHistory(a.History),
			api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		)
		logger.Info("starting", "version", version.String(), "store", cfg.Store.Driver)
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().Bool("mock", false, "Serve the seeded demo provider")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
