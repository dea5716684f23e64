package source

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

const testSchema = `
CREATE TABLE categories (id TEXT PRIMARY KEY, name TEXT);
CREATE TABLE products (id TEXT PRIMARY KEY, name TEXT, price REAL, category_id TEXT);
CREATE TABLE customers (id TEXT PRIMARY KEY, name TEXT, join_date DATE);
CREATE TABLE orders (id TEXT PRIMARY KEY, customer_id TEXT, ts TIMESTAMP);
CREATE TABLE order_items (order_id TEXT, product_id TEXT, quantity INTEGER);
CREATE TABLE events (id TEXT PRIMARY KEY, customer_id TEXT, product_id TEXT, event_type TEXT, ts TIMESTAMP);
`

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	// each sqlite :memory: connection is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func seed(t *testing.T, db *sqlx.DB) {
	t.Helper()

	stmts := []string{
		`INSERT INTO categories VALUES ('C1', 'Electronics'), ('C2', 'Books')`,
		`INSERT INTO products VALUES ('P1', 'Phone', 499.5, 'C1'), ('P2', 'Novel', 12, 'C2'), ('P3', 'Cable', 3.25, 'C1')`,
		`INSERT INTO customers VALUES ('U1', 'Ada', '2023-01-15'), ('U2', 'Linus', NULL)`,
		`INSERT INTO orders VALUES ('O1', 'U1', '2024-03-01 10:00:00'), ('O2', 'U2', '2024-03-02 11:30:00')`,
		`INSERT INTO order_items VALUES ('O1', 'P1', 1), ('O1', 'P3', 2), ('O2', 'P2', 1)`,
		`INSERT INTO events VALUES
			('E2', 'U1', 'P1', 'add_to_cart', '2024-03-01 09:55:00'),
			('E1', 'U1', 'P1', 'view', '2024-03-01 09:50:00'),
			('E3', 'U2', 'P2', 'view', '2024-03-02 11:00:00')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func newTestReader(db *sqlx.DB, chunk int) *Reader {
	logger, _ := test.NewNullLogger()
	return NewReader(db, Options{ChunkSize: chunk, Logger: logger})
}

func TestReaderReadsAllTables(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	r := newTestReader(db, 0)
	ctx := context.Background()

	categories, err := r.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Category{{ID: "C1", Name: "Electronics"}, {ID: "C2", Name: "Books"}}, categories)

	products, err := r.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, 499.5, products[0].Price)
	assert.Equal(t, "C1", products[0].CategoryID)

	customers, err := r.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	require.NotNil(t, customers[0].JoinDate)
	assert.Equal(t, 2023, customers[0].JoinDate.Year())
	assert.Nil(t, customers[1].JoinDate)

	orders, err := r.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 10, orders[0].Timestamp.Hour())

	items, err := r.OrderItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	events, err := r.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// ordered by ts, not by id
	assert.Equal(t, []string{"E1", "E2", "E3"}, []string{events[0].ID, events[1].ID, events[2].ID})
}

func TestReaderChunksAcrossPages(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	// chunk smaller than the table and an exact multiple of it
	for _, chunk := range []int{1, 2, 3} {
		r := newTestReader(db, chunk)
		products, err := r.Products(context.Background())
		require.NoError(t, err)
		assert.Len(t, products, 3, "chunk=%d", chunk)
		assert.Equal(t, "P1", products[0].ID)
		assert.Equal(t, "P3", products[2].ID)
	}
}

func TestReaderEmptyTable(t *testing.T) {
	db := setupTestDB(t)
	r := newTestReader(db, 0)

	categories, err := r.Categories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestReaderRejectsMalformedRows(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`INSERT INTO order_items VALUES ('O1', 'P1', 0)`)
	require.NoError(t, err)

	r := newTestReader(db, 0)
	_, err = r.OrderItems(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSourceReadFailed)
}

func TestReaderMissingTable(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`DROP TABLE events`)
	require.NoError(t, err)

	r := newTestReader(db, 0)
	_, err = r.Events(context.Background())

	require.Error(t, err)
	assert.Equal(t, errors.KindSourceReadFailed, errors.KindOf(err))
}

func TestCounts(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	// a repeated line item collapses into one CONTAINS edge
	_, err := db.Exec(`INSERT INTO order_items VALUES ('O1', 'P1', 4)`)
	require.NoError(t, err)

	r := newTestReader(db, 0)
	counts, err := r.Counts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), counts.Nodes[models.NodeCategory])
	assert.Equal(t, int64(3), counts.Nodes[models.NodeProduct])
	assert.Equal(t, int64(2), counts.Nodes[models.NodeCustomer])
	assert.Equal(t, int64(2), counts.Nodes[models.NodeOrder])
	assert.Equal(t, int64(3), counts.Edges[models.EdgeInCategory])
	assert.Equal(t, int64(2), counts.Edges[models.EdgePlaced])
	assert.Equal(t, int64(3), counts.Edges[models.EdgeContains])
	assert.Equal(t, int64(2), counts.Edges[models.EdgeInteracted])
}

func TestFlavorFor(t *testing.T) {
	assert.Equal(t, "SQLite", FlavorFor("sqlite3").String())
	assert.Equal(t, "PostgreSQL", FlavorFor("postgres").String())
	assert.Equal(t, "PostgreSQL", FlavorFor("pgx").String())
}
