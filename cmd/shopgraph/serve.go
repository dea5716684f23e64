package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/shopgraph/internal/config"
	"github.com/rohankatakam/shopgraph/internal/metrics"
	"github.com/rohankatakam/shopgraph/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the migration HTTP API",
	Long: `Start the HTTP API:

  POST /etl/run          run a migration (?async=true returns 202 and a run id)
  GET  /etl/status       current phase and last report
  GET  /etl/runs         past runs, newest first
  GET  /etl/runs/:id     one past run
  GET  /etl/validate     compare source and graph counts
  GET  /health           dependency checks
  GET  /metrics          Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := validateConfig(config.ValidationContextMigrate); err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	gin.SetMode(ginMode(verbose))

	log := loggerFor("serve")
	reg := metrics.NewRegistry()

	runner, store, cleanup, err := newRunner(cfg, log, reg, reg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(server.Deps{
		Runner:   runner,
		History:  store,
		Health:   newGate(cfg, log, true),
		Validate: newValidateFunc(cfg, log),
		Metrics:  reg.Handler(),
	}, loggerFor("http"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.ListenAndServe(ctx, addr)

	// async runs outlive their request; let the current one finish
	log.Info("waiting for in-flight migration")
	runner.Wait()
	return err
}

// ginMode keeps gin's route dump and debug warnings behind --verbose
func ginMode(verbose bool) string {
	if verbose {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
