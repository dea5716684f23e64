package graph

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
)

// Declaration is one idempotent schema statement
type Declaration struct {
	Name   string
	Cypher string
}

// SchemaDeclarations returns the constraints and indexes in apply order
// Uniqueness constraints come first; they back the MERGE lookups.
func SchemaDeclarations() []Declaration {
	return []Declaration{
		{"category_id_unique", "CREATE CONSTRAINT category_id_unique IF NOT EXISTS FOR (n:Category) REQUIRE n.id IS UNIQUE"},
		{"product_id_unique", "CREATE CONSTRAINT product_id_unique IF NOT EXISTS FOR (n:Product) REQUIRE n.id IS UNIQUE"},
		{"customer_id_unique", "CREATE CONSTRAINT customer_id_unique IF NOT EXISTS FOR (n:Customer) REQUIRE n.id IS UNIQUE"},
		{"order_id_unique", "CREATE CONSTRAINT order_id_unique IF NOT EXISTS FOR (n:Order) REQUIRE n.id IS UNIQUE"},
		{"category_name", "CREATE INDEX category_name IF NOT EXISTS FOR (n:Category) ON (n.name)"},
		{"product_name", "CREATE INDEX product_name IF NOT EXISTS FOR (n:Product) ON (n.name)"},
		{"customer_name", "CREATE INDEX customer_name IF NOT EXISTS FOR (n:Customer) ON (n.name)"},
		{"order_timestamp", "CREATE INDEX order_timestamp IF NOT EXISTS FOR (n:Order) ON (n.timestamp)"},
		{"interacted_event_type", "CREATE INDEX interacted_event_type IF NOT EXISTS FOR ()-[r:INTERACTED]-() ON (r.event_type)"},
	}
}

// Bootstrapper applies schema declarations, each in its own transaction
type Bootstrapper struct {
	exec         Executor
	declarations []Declaration
	logger       logrus.FieldLogger
}

// NewBootstrapper creates a bootstrapper for the default declarations
func NewBootstrapper(exec Executor, logger logrus.FieldLogger) *Bootstrapper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bootstrapper{
		exec:         exec,
		declarations: SchemaDeclarations(),
		logger:       logger.WithField("component", "schema"),
	}
}

// EnsureSchema applies every declaration; the first failure is fatal
func (b *Bootstrapper) EnsureSchema(ctx context.Context) error {
	start := time.Now()

	for _, decl := range b.declarations {
		cfg := GetConfigForOperation(OpSchema).WithCustomMetadata("declaration", decl.Name)
		stmt := Statement{Cypher: decl.Cypher}

		err := b.exec.Write(ctx, cfg, func(ctx context.Context, tx Tx) error {
			_, err := tx.Run(ctx, stmt)
			return err
		})
		if err != nil {
			return errors.SchemaSetupFailed(err, "schema declaration %s failed", decl.Name).
				WithContext("declaration", decl.Name)
		}
		b.logger.WithField("declaration", decl.Name).Debug("schema declaration applied")
	}

	b.logger.WithFields(logrus.Fields{
		"declarations": len(b.declarations),
		"duration":     time.Since(start).Round(time.Millisecond),
	}).Info("schema ready")
	return nil
}
