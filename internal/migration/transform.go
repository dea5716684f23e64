package migration

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/shopgraph/internal/models"
)

// Transform functions map relational records onto graph entities. Every
// function returns entities with unique identities (last record wins), so
// batches of one call never upsert the same node or edge twice.

// CategoryNodes maps categories to Category nodes
func CategoryNodes(rows []models.Category) []models.GraphNode {
	nodes := make([]models.GraphNode, 0, len(rows))
	for _, c := range rows {
		nodes = append(nodes, models.GraphNode{
			Kind:       models.NodeCategory,
			ID:         c.ID,
			Properties: map[string]any{"name": c.Name},
		})
	}
	return dedupeNodes(nodes)
}

// ProductNodes maps products to Product nodes
func ProductNodes(rows []models.Product) []models.GraphNode {
	nodes := make([]models.GraphNode, 0, len(rows))
	for _, p := range rows {
		nodes = append(nodes, models.GraphNode{
			Kind:       models.NodeProduct,
			ID:         p.ID,
			Properties: map[string]any{"name": p.Name, "price": p.Price},
		})
	}
	return dedupeNodes(nodes)
}

// InCategoryEdges links each product to its category
func InCategoryEdges(rows []models.Product) []models.GraphEdge {
	edges := make([]models.GraphEdge, 0, len(rows))
	for _, p := range rows {
		edges = append(edges, models.GraphEdge{
			Kind:       models.EdgeInCategory,
			From:       p.ID,
			To:         p.CategoryID,
			Properties: map[string]any{},
		})
	}
	return dedupeEdges(edges)
}

// CustomerNodes maps customers to Customer nodes; join_date becomes a graph date
func CustomerNodes(rows []models.Customer) []models.GraphNode {
	nodes := make([]models.GraphNode, 0, len(rows))
	for _, c := range rows {
		props := map[string]any{"name": c.Name}
		if c.JoinDate != nil {
			props["join_date"] = neo4j.DateOf(*c.JoinDate)
		}
		nodes = append(nodes, models.GraphNode{
			Kind:       models.NodeCustomer,
			ID:         c.ID,
			Properties: props,
		})
	}
	return dedupeNodes(nodes)
}

// OrderNodes maps orders to Order nodes
func OrderNodes(rows []models.Order) []models.GraphNode {
	nodes := make([]models.GraphNode, 0, len(rows))
	for _, o := range rows {
		nodes = append(nodes, models.GraphNode{
			Kind:       models.NodeOrder,
			ID:         o.ID,
			Properties: map[string]any{"timestamp": o.Timestamp},
		})
	}
	return dedupeNodes(nodes)
}

// PlacedEdges links each customer to the orders they placed
func PlacedEdges(rows []models.Order) []models.GraphEdge {
	edges := make([]models.GraphEdge, 0, len(rows))
	for _, o := range rows {
		edges = append(edges, models.GraphEdge{
			Kind:       models.EdgePlaced,
			From:       o.CustomerID,
			To:         o.ID,
			Properties: map[string]any{},
		})
	}
	return dedupeEdges(edges)
}

// ContainsEdges maps order items to CONTAINS edges keyed by (order, product)
func ContainsEdges(rows []models.OrderItem) []models.GraphEdge {
	edges := make([]models.GraphEdge, 0, len(rows))
	for _, item := range rows {
		edges = append(edges, models.GraphEdge{
			Kind:       models.EdgeContains,
			From:       item.OrderID,
			To:         item.ProductID,
			Properties: map[string]any{"quantity": item.Quantity},
		})
	}
	return dedupeEdges(edges)
}

// InteractedEdges aggregates events into one INTERACTED edge per
// (customer, product). The edge carries the latest event (by ts, then id) and
// the number of events folded into it.
func InteractedEdges(rows []models.Event) []models.GraphEdge {
	type key struct{ customer, product string }

	latest := make(map[key]models.Event, len(rows))
	count := make(map[key]int64, len(rows))
	order := make([]key, 0, len(rows))

	for _, e := range rows {
		k := key{e.CustomerID, e.ProductID}
		prev, seen := latest[k]
		if !seen {
			order = append(order, k)
		}
		count[k]++
		if !seen || laterEvent(e, prev) {
			latest[k] = e
		}
	}

	edges := make([]models.GraphEdge, 0, len(order))
	for _, k := range order {
		e := latest[k]
		edges = append(edges, models.GraphEdge{
			Kind: models.EdgeInteracted,
			From: k.customer,
			To:   k.product,
			Properties: map[string]any{
				"event_type":        e.EventType,
				"timestamp":         e.Timestamp,
				"event_id":          e.ID,
				"interaction_count": count[k],
			},
		})
	}
	return edges
}

func laterEvent(a, b models.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// dedupeNodes keeps the last node per id, in first-seen order
func dedupeNodes(nodes []models.GraphNode) []models.GraphNode {
	index := make(map[string]int, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if i, ok := index[n.ID]; ok {
			out[i] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out
}

// dedupeEdges keeps the last edge per (from, to), in first-seen order
func dedupeEdges(edges []models.GraphEdge) []models.GraphEdge {
	type key struct{ from, to string }
	index := make(map[key]int, len(edges))
	out := edges[:0]
	for _, e := range edges {
		k := key{e.From, e.To}
		if i, ok := index[k]; ok {
			out[i] = e
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}
