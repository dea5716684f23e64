package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/shopgraph/internal/config"
	"github.com/rohankatakam/shopgraph/internal/graph"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply graph constraints and indexes",
	Long: `Apply the uniqueness constraints and indexes the migration relies on.
Every declaration is idempotent; running this against a ready graph is a no-op.`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().Bool("list", false, "print the declarations without applying them")
}

func runSchema(cmd *cobra.Command, args []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, d := range graph.SchemaDeclarations() {
			fmt.Printf("%-24s %s\n", d.Name, d.Cypher)
		}
		return nil
	}

	if err := validateConfig(config.ValidationContextGraph); err != nil {
		return err
	}

	log := loggerFor("schema")
	client, err := graph.NewClient(neo4jOptions(cfg, log))
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	ctx := cmd.Context()
	if err := client.HealthCheck(ctx); err != nil {
		return err
	}
	if err := graph.NewBootstrapper(client, log).EnsureSchema(ctx); err != nil {
		return err
	}

	fmt.Printf("✓ %d schema declarations applied\n", len(graph.SchemaDeclarations()))
	return nil
}
