package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/shopgraph/internal/config"
	"github.com/rohankatakam/shopgraph/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past migration runs",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the report of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to list (0 for all)")
	historyCmd.PersistentFlags().String("format", formatText, "output format: text, json or yaml")
	historyCmd.AddCommand(historyShowCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}

	store, err := openHistoryForRead()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return renderRuns(os.Stdout, format, runs)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	store, err := openHistoryForRead()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.Get(cmd.Context(), args[0])
	if stderrors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("no run with id %s", args[0])
	}
	if err != nil {
		return err
	}
	return renderReport(os.Stdout, format, report)
}

func openHistoryForRead() (*history.Store, error) {
	if err := validateConfig(config.ValidationContextHistory); err != nil {
		return nil, err
	}
	return openHistory(cfg, loggerFor("history"))
}
