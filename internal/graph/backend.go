package graph

import (
	"context"
)

// Statement is a parameterized Cypher statement
type Statement struct {
	Cypher string
	Params map[string]any
}

// Tx runs statements inside one managed transaction
type Tx interface {
	Run(ctx context.Context, stmt Statement) ([]map[string]any, error)
}

// Executor runs units of work against the graph store
// Write commits work atomically: either every statement it ran is applied or none.
type Executor interface {
	Write(ctx context.Context, cfg TransactionConfig, work func(ctx context.Context, tx Tx) error) error
	Read(ctx context.Context, cfg TransactionConfig, stmt Statement) ([]map[string]any, error)
}
