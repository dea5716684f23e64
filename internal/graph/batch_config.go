package graph

import "strings"

// DefaultBatchSize is used for any kind without an override
const DefaultBatchSize = 500

// BatchConfig defines batch sizes per node label or edge type
//
// Simple nodes with few properties tolerate large batches; edges touching a
// handful of shared endpoint nodes (IN_CATEGORY) contend on locks and do
// better in smaller ones.
type BatchConfig struct {
	Default   int
	Overrides map[string]int // keyed case-insensitively by label or type
}

// DefaultBatchConfig returns the default batch sizes
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Default: DefaultBatchSize}
}

// NewBatchConfig builds a config from a default size and per-kind overrides
func NewBatchConfig(defaultSize int, overrides map[string]int) BatchConfig {
	bc := BatchConfig{Default: defaultSize, Overrides: make(map[string]int, len(overrides))}
	for kind, size := range overrides {
		bc.Overrides[strings.ToLower(kind)] = size
	}
	return bc
}

// SizeFor returns the batch size for a node label or edge type
func (bc BatchConfig) SizeFor(kind string) int {
	if size, ok := bc.Overrides[strings.ToLower(kind)]; ok && size > 0 {
		return size
	}
	if bc.Default > 0 {
		return bc.Default
	}
	return DefaultBatchSize
}

// split partitions rows into consecutive batches of at most size
func split[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]T, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[i:end])
	}
	return batches
}
