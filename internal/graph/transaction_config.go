package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names used for transaction timeouts and metadata
const (
	OpSchema      = "schema_declaration"
	OpWipe        = "wipe"
	OpNodeUpsert  = "node_upsert"
	OpEdgeUpsert  = "edge_upsert"
	OpCount       = "count"
	OpHealthCheck = "health_check"
)

// TransactionConfig defines timeout and metadata for transactions
// Metadata is logged by Neo4j and visible in query.log.
type TransactionConfig struct {
	Operation string
	Timeout   time.Duration
	Metadata  map[string]any
}

// DefaultTransactionConfigs returns the config per operation
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		OpSchema: {
			Timeout:  5 * time.Minute, // index population can be slow on large graphs
			Metadata: map[string]any{"type": "schema"},
		},
		OpWipe: {
			Timeout:  5 * time.Minute,
			Metadata: map[string]any{"type": "write"},
		},
		OpNodeUpsert: {
			Timeout:  3 * time.Minute,
			Metadata: map[string]any{"type": "write"},
		},
		OpEdgeUpsert: {
			Timeout:  3 * time.Minute,
			Metadata: map[string]any{"type": "write"},
		},
		OpCount: {
			Timeout:  60 * time.Second,
			Metadata: map[string]any{"type": "read"},
		},
		OpHealthCheck: {
			Timeout:  5 * time.Second,
			Metadata: map[string]any{"type": "read"},
		},
	}
}

// GetConfigForOperation retrieves the transaction config for operation
// Returns a 60s fallback if the operation is unknown
func GetConfigForOperation(operation string) TransactionConfig {
	config, ok := DefaultTransactionConfigs()[operation]
	if !ok {
		config = TransactionConfig{
			Timeout:  60 * time.Second,
			Metadata: map[string]any{"type": "unknown"},
		}
	}
	config.Operation = operation
	return config.WithCustomMetadata("operation", operation)
}

// AsNeo4jConfig converts to Neo4j transaction config functions
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// WithCustomMetadata returns a copy of the config with key set in its metadata
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	newConfig := TransactionConfig{
		Operation: tc.Operation,
		Timeout:   tc.Timeout,
		Metadata:  make(map[string]any, len(tc.Metadata)+1),
	}
	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}
	newConfig.Metadata[key] = value
	return newConfig
}
