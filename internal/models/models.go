package models

import (
	"time"
)

// Relational records. Field tags drive both sqlx scanning and boundary validation.

// Category represents a row of the categories table
type Category struct {
	ID   string `json:"id" db:"id" validate:"required"`
	Name string `json:"name" db:"name"`
}

// Product represents a row of the products table
type Product struct {
	ID         string  `json:"id" db:"id" validate:"required"`
	Name       string  `json:"name" db:"name"`
	Price      float64 `json:"price" db:"price" validate:"gte=0"`
	CategoryID string  `json:"category_id" db:"category_id" validate:"required"`
}

// Customer represents a row of the customers table
type Customer struct {
	ID       string     `json:"id" db:"id" validate:"required"`
	Name     string     `json:"name" db:"name"`
	JoinDate *time.Time `json:"join_date" db:"join_date"`
}

// Order represents a row of the orders table
type Order struct {
	ID         string    `json:"id" db:"id" validate:"required"`
	CustomerID string    `json:"customer_id" db:"customer_id" validate:"required"`
	Timestamp  time.Time `json:"ts" db:"ts" validate:"required"`
}

// OrderItem represents a row of the order_items table, keyed by (order_id, product_id)
type OrderItem struct {
	OrderID   string `json:"order_id" db:"order_id" validate:"required"`
	ProductID string `json:"product_id" db:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" db:"quantity" validate:"gt=0"`
}

// Event represents a row of the events table
type Event struct {
	ID         string    `json:"id" db:"id" validate:"required"`
	CustomerID string    `json:"customer_id" db:"customer_id" validate:"required"`
	ProductID  string    `json:"product_id" db:"product_id" validate:"required"`
	EventType  string    `json:"event_type" db:"event_type" validate:"required"`
	Timestamp  time.Time `json:"ts" db:"ts" validate:"required"`
}

// NodeKind is a graph node label
type NodeKind string

const (
	NodeCategory NodeKind = "Category"
	NodeProduct  NodeKind = "Product"
	NodeCustomer NodeKind = "Customer"
	NodeOrder    NodeKind = "Order"
)

// NodeKinds lists node labels in load order
var NodeKinds = []NodeKind{NodeCategory, NodeProduct, NodeCustomer, NodeOrder}

// EdgeKind is a graph relationship type
type EdgeKind string

const (
	EdgeInCategory EdgeKind = "IN_CATEGORY"
	EdgePlaced     EdgeKind = "PLACED"
	EdgeContains   EdgeKind = "CONTAINS"
	EdgeInteracted EdgeKind = "INTERACTED"
)

// EdgeKinds lists relationship types in load order
var EdgeKinds = []EdgeKind{EdgeInCategory, EdgePlaced, EdgeContains, EdgeInteracted}

// EdgeEndpoints returns the (from, to) node labels of an edge kind
func EdgeEndpoints(kind EdgeKind) (from, to NodeKind, ok bool) {
	switch kind {
	case EdgeInCategory:
		return NodeProduct, NodeCategory, true
	case EdgePlaced:
		return NodeCustomer, NodeOrder, true
	case EdgeContains:
		return NodeOrder, NodeProduct, true
	case EdgeInteracted:
		return NodeCustomer, NodeProduct, true
	default:
		return "", "", false
	}
}

// GraphNode represents a node to upsert, merged by (Kind, ID)
type GraphNode struct {
	Kind       NodeKind
	ID         string
	Properties map[string]any // id is always included
}

// GraphEdge represents an edge to upsert, merged by (Kind, From, To)
type GraphEdge struct {
	Kind       EdgeKind
	From       string // id of the From-label node
	To         string // id of the To-label node
	Properties map[string]any
}

// GraphCounts holds node counts per label and edge counts per type
type GraphCounts struct {
	Nodes map[NodeKind]int64 `json:"nodes" yaml:"nodes"`
	Edges map[EdgeKind]int64 `json:"edges" yaml:"edges"`
}

// NewGraphCounts returns zeroed counts for every known kind
func NewGraphCounts() GraphCounts {
	c := GraphCounts{
		Nodes: make(map[NodeKind]int64, len(NodeKinds)),
		Edges: make(map[EdgeKind]int64, len(EdgeKinds)),
	}
	for _, k := range NodeKinds {
		c.Nodes[k] = 0
	}
	for _, k := range EdgeKinds {
		c.Edges[k] = 0
	}
	return c
}

// TotalNodes sums node counts across labels, including unknown ones
func (c GraphCounts) TotalNodes() int64 {
	var total int64
	for _, n := range c.Nodes {
		total += n
	}
	return total
}

// TotalEdges sums edge counts across types, including unknown ones
func (c GraphCounts) TotalEdges() int64 {
	var total int64
	for _, n := range c.Edges {
		total += n
	}
	return total
}
