package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

// DefaultChunkSize bounds how many rows one query fetches
const DefaultChunkSize = 5000

// table describes one source table and the key columns that give it a stable order
type table struct {
	name    string
	columns []string
	orderBy []string
}

var (
	categoriesTable = table{"categories", []string{"id", "name"}, []string{"id"}}
	productsTable   = table{"products", []string{"id", "name", "price", "category_id"}, []string{"id"}}
	customersTable  = table{"customers", []string{"id", "name", "join_date"}, []string{"id"}}
	ordersTable     = table{"orders", []string{"id", "customer_id", "ts"}, []string{"id"}}
	orderItemsTable = table{"order_items", []string{"order_id", "product_id", "quantity"}, []string{"order_id", "product_id"}}
	eventsTable     = table{"events", []string{"id", "customer_id", "product_id", "event_type", "ts"}, []string{"ts", "id"}}
)

// Reader issues read-only queries against the relational source
// Every read returns the complete, validated row set for its table or fails
// with SourceReadFailed; partial results are never returned.
type Reader struct {
	db        *sqlx.DB
	flavor    sqlbuilder.Flavor
	chunkSize int
	validate  *validator.Validate
	logger    logrus.FieldLogger
}

// Options configures a Reader
type Options struct {
	ChunkSize    int
	MaxOpenConns int
	Logger       logrus.FieldLogger
}

// Open creates a Reader for the given driver and DSN
// The pool connects lazily; liveness is the readiness gate's job.
func Open(driverName, dsn string, opts Options) (*Reader, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	return NewReader(db, opts), nil
}

// NewReader wraps an existing sqlx handle
func NewReader(db *sqlx.DB, opts Options) *Reader {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Reader{
		db:        db,
		flavor:    FlavorFor(db.DriverName()),
		chunkSize: chunk,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.WithField("component", "source"),
	}
}

// FlavorFor maps a database/sql driver name to its SQL flavor
func FlavorFor(driverName string) sqlbuilder.Flavor {
	switch driverName {
	case "sqlite3", "sqlite":
		return sqlbuilder.SQLite
	case "mysql":
		return sqlbuilder.MySQL
	default:
		return sqlbuilder.PostgreSQL
	}
}

// Close releases the connection pool
func (r *Reader) Close() error {
	return r.db.Close()
}

// Ping verifies the pool can reach the source
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Categories returns all categories ordered by id
func (r *Reader) Categories(ctx context.Context) ([]models.Category, error) {
	return readAll[models.Category](ctx, r, categoriesTable)
}

// Products returns all products ordered by id
func (r *Reader) Products(ctx context.Context) ([]models.Product, error) {
	return readAll[models.Product](ctx, r, productsTable)
}

// Customers returns all customers ordered by id
func (r *Reader) Customers(ctx context.Context) ([]models.Customer, error) {
	return readAll[models.Customer](ctx, r, customersTable)
}

// Orders returns all orders ordered by id
func (r *Reader) Orders(ctx context.Context) ([]models.Order, error) {
	return readAll[models.Order](ctx, r, ordersTable)
}

// OrderItems returns all order items ordered by (order_id, product_id)
func (r *Reader) OrderItems(ctx context.Context) ([]models.OrderItem, error) {
	return readAll[models.OrderItem](ctx, r, orderItemsTable)
}

// Events returns all events ordered by (ts, id) so later events win when aggregated
func (r *Reader) Events(ctx context.Context) ([]models.Event, error) {
	return readAll[models.Event](ctx, r, eventsTable)
}

// readAll fetches a table in chunks of r.chunkSize rows (LIMIT/OFFSET over a
// stable order; source rows are immutable for the duration of a run)
func readAll[T any](ctx context.Context, r *Reader, t table) ([]T, error) {
	start := time.Now()
	var rows []T

	for offset := 0; ; offset += r.chunkSize {
		sb := r.flavor.NewSelectBuilder()
		sb.Select(t.columns...).
			From(t.name).
			OrderBy(t.orderBy...).
			Limit(r.chunkSize).
			Offset(offset)
		query, args := sb.Build()

		var chunk []T
		if err := r.db.SelectContext(ctx, &chunk, query, args...); err != nil {
			return nil, errors.SourceReadFailed(err, "failed to read %s", t.name).
				WithContext("table", t.name).
				WithContext("offset", offset)
		}

		for i := range chunk {
			if err := r.validate.StructCtx(ctx, &chunk[i]); err != nil {
				return nil, errors.SourceReadFailed(err, "malformed row in %s", t.name).
					WithContext("table", t.name).
					WithContext("row", offset+i)
			}
		}

		rows = append(rows, chunk...)
		if len(chunk) < r.chunkSize {
			break
		}
	}

	r.logger.WithFields(logrus.Fields{
		"table":    t.name,
		"rows":     len(rows),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("source table read")

	return rows, nil
}

// Counts returns the node and edge counts a complete run should produce
func (r *Reader) Counts(ctx context.Context) (models.GraphCounts, error) {
	counts := models.NewGraphCounts()

	nodeTables := map[models.NodeKind]string{
		models.NodeCategory: categoriesTable.name,
		models.NodeProduct:  productsTable.name,
		models.NodeCustomer: customersTable.name,
		models.NodeOrder:    ordersTable.name,
	}
	for kind, name := range nodeTables {
		n, err := r.countRows(ctx, name)
		if err != nil {
			return counts, err
		}
		counts.Nodes[kind] = n
	}

	counts.Edges[models.EdgeInCategory] = counts.Nodes[models.NodeProduct]
	counts.Edges[models.EdgePlaced] = counts.Nodes[models.NodeOrder]

	contains, err := r.countDistinct(ctx, orderItemsTable.name, "order_id", "product_id")
	if err != nil {
		return counts, err
	}
	counts.Edges[models.EdgeContains] = contains

	interacted, err := r.countDistinct(ctx, eventsTable.name, "customer_id", "product_id")
	if err != nil {
		return counts, err
	}
	counts.Edges[models.EdgeInteracted] = interacted

	return counts, nil
}

func (r *Reader) countRows(ctx context.Context, name string) (int64, error) {
	sb := r.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From(name)
	query, args := sb.Build()

	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.SourceReadFailed(err, "failed to count %s", name).WithContext("table", name)
	}
	return n, nil
}

func (r *Reader) countDistinct(ctx context.Context, name string, columns ...string) (int64, error) {
	sub := r.flavor.NewSelectBuilder()
	sub.Distinct().Select(columns...).From(name)

	sb := r.flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From(sb.BuilderAs(sub, "pairs"))
	query, args := sb.Build()

	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.SourceReadFailed(err, "failed to count distinct %s", name).WithContext("table", name)
	}
	return n, nil
}
