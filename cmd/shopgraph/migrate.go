package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/shopgraph/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rebuild the graph from the relational source",
	Long: `Run one full migration: wait for Postgres and Neo4j, apply the schema,
wipe the graph, then load categories, products, customers, orders,
order items and events in that order.

With --dry-run the source is read and transformed into an in-memory graph;
Neo4j is not touched. Exits with status 2 when the run fails.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "load into an in-memory graph instead of Neo4j")
	migrateCmd.Flags().String("format", formatText, "report format: text, json or yaml")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	if err := validateConfig(config.ValidationContextMigrate); err != nil {
		return err
	}

	log := loggerFor("migrate")
	runner, _, cleanup, err := newRunner(cfg, log, nil, nil, dryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}

	if err := renderReport(os.Stdout, format, report); err != nil {
		return err
	}
	if !report.Succeeded() {
		return &exitError{code: 2}
	}
	return nil
}
