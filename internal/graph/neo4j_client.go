package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// ClientOptions configures the Neo4j connection
type ClientOptions struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Logger      logrus.FieldLogger
}

// Client wraps the Neo4j driver and implements Executor over managed transactions
type Client struct {
	driver   neo4j.DriverWithContext
	logger   logrus.FieldLogger
	database string
}

var _ Executor = (*Client)(nil)

// NewClient creates a driver for the given options
// The driver connects lazily; callers verify reachability through HealthCheck
// or the readiness gate.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}

	poolSize := opts.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, authFor(opts.User, opts.Password),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = poolSize
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
			// batch retries are owned by the writer's retry policy
			config.MaxTransactionRetryTime = 5 * time.Second
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "neo4j")
	logger.WithFields(logrus.Fields{
		"uri":           opts.URI,
		"database":      opts.Database,
		"max_pool_size": poolSize,
	}).Debug("neo4j driver created")

	return &Client{
		driver:   driver,
		logger:   logger,
		database: opts.Database,
	}, nil
}

func authFor(user, password string) neo4j.AuthToken {
	if user == "" {
		return neo4j.NoAuth()
	}
	return neo4j.BasicAuth(user, password, "")
}

// Close closes the Neo4j driver connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Debug("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	cfg := GetConfigForOperation(OpHealthCheck)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Write runs work in one managed write transaction
func (c *Client) Write(ctx context.Context, cfg TransactionConfig, work func(ctx context.Context, tx Tx) error) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(ctx, managedTx{tx: tx})
	}, cfg.AsNeo4jConfig()...)
	return err
}

// Read runs one statement in a managed read transaction
func (c *Client) Read(ctx context.Context, cfg TransactionConfig, stmt Statement) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return managedTx{tx: tx}.Run(ctx, stmt)
	}, cfg.AsNeo4jConfig()...)
	if err != nil {
		return nil, err
	}
	return records.([]map[string]any), nil
}

type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m managedTx) Run(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	result, err := m.tx.Run(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, record.AsMap())
	}
	return rows, nil
}
