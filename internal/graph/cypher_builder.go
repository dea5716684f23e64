package graph

import (
	"fmt"
	"regexp"

	"github.com/rohankatakam/shopgraph/internal/models"
)

// Labels and relationship types cannot be parameterized in Cypher, so every
// identifier interpolated into a statement is checked against this pattern;
// all values travel as parameters.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier validates that a string can be safely used as a Cypher identifier
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// nodeRow is the UNWIND row shape for node upserts
func nodeRow(node models.GraphNode) map[string]any {
	props := make(map[string]any, len(node.Properties)+1)
	for k, v := range node.Properties {
		props[k] = v
	}
	props["id"] = node.ID
	return map[string]any{"id": node.ID, "props": props}
}

// edgeRow is the UNWIND row shape for edge upserts
func edgeRow(edge models.GraphEdge) map[string]any {
	props := make(map[string]any, len(edge.Properties))
	for k, v := range edge.Properties {
		props[k] = v
	}
	return map[string]any{"from": edge.From, "to": edge.To, "props": props}
}

// BuildNodeUpsert merges each row by id and replaces its properties
func BuildNodeUpsert(kind models.NodeKind, rows []map[string]any) (Statement, error) {
	if !isValidIdentifier(string(kind)) {
		return Statement{}, fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", kind)
	}

	return Statement{
		Cypher: fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%s {id: row.id})
SET n = row.props
RETURN count(n) AS written`, kind),
		Params: map[string]any{"rows": rows},
	}, nil
}

// BuildEdgeProbe returns the rows of a batch whose endpoints do not exist
func BuildEdgeProbe(kind models.EdgeKind, rows []map[string]any) (Statement, error) {
	from, to, err := edgeLabels(kind)
	if err != nil {
		return Statement{}, err
	}

	return Statement{
		Cypher: fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (a:%s {id: row.from})
OPTIONAL MATCH (b:%s {id: row.to})
WITH row, a, b WHERE a IS NULL OR b IS NULL
RETURN row.from AS from, row.to AS to, a IS NULL AS missing_from, b IS NULL AS missing_to
LIMIT $limit`, from, to),
		Params: map[string]any{"rows": rows, "limit": int64(missingEndpointSample)},
	}, nil
}

// BuildEdgeUpsert merges one relationship per (from, to) and replaces its properties
func BuildEdgeUpsert(kind models.EdgeKind, rows []map[string]any) (Statement, error) {
	from, to, err := edgeLabels(kind)
	if err != nil {
		return Statement{}, err
	}

	return Statement{
		Cypher: fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%s {id: row.from})
MATCH (b:%s {id: row.to})
MERGE (a)-[r:%s]->(b)
SET r = row.props
RETURN count(r) AS written`, from, to, kind),
		Params: map[string]any{"rows": rows},
	}, nil
}

// BuildWipeBatch deletes up to limit nodes with their relationships
func BuildWipeBatch(limit int) Statement {
	return Statement{
		Cypher: `MATCH (n)
WITH n LIMIT $limit
DETACH DELETE n
RETURN count(n) AS deleted`,
		Params: map[string]any{"limit": int64(limit)},
	}
}

// BuildNodeCounts counts nodes per label
func BuildNodeCounts() Statement {
	return Statement{Cypher: `MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS count`}
}

// BuildEdgeCounts counts relationships per type
func BuildEdgeCounts() Statement {
	return Statement{Cypher: `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`}
}

func edgeLabels(kind models.EdgeKind) (models.NodeKind, models.NodeKind, error) {
	from, to, ok := models.EdgeEndpoints(kind)
	if !ok || !isValidIdentifier(string(kind)) {
		return "", "", fmt.Errorf("invalid edge type: %s", kind)
	}
	return from, to, nil
}
