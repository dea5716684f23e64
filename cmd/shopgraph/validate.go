package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/shopgraph/internal/config"
	"github.com/rohankatakam/shopgraph/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare source row counts with graph counts",
	Long: `Count every entity and relationship kind in Postgres and in Neo4j and
report any difference. Exits with status 2 when the graph is out of sync.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("format", formatText, "output format: text, json or yaml")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	if err := validateConfig(config.ValidationContextMigrate); err != nil {
		return err
	}

	log := loggerFor("validate")
	summary, err := newValidateFunc(cfg, log)(cmd.Context())
	if err != nil {
		return err
	}
	validation.LogResults(log, summary)

	if err := renderValidation(os.Stdout, format, summary); err != nil {
		return err
	}
	if !summary.Passed {
		return &exitError{code: 2}
	}
	return nil
}
