package readiness

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/rohankatakam/shopgraph/internal/graph"
)

// PostgresProbe opens a fresh connection, pings it and closes it
func PostgresProbe(dsn string) Probe {
	return func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres connect failed: %w", err)
		}
		defer conn.Close(context.Background())

		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		return nil
	}
}

// Neo4jProbe creates a driver, verifies connectivity and closes it
func Neo4jProbe(opts graph.ClientOptions) Probe {
	return func(ctx context.Context) error {
		client, err := graph.NewClient(opts)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		return client.HealthCheck(ctx)
	}
}

// RedisProbe sends PING over a short-lived client
func RedisProbe(opts *redis.Options) Probe {
	return func(ctx context.Context) error {
		client := redis.NewClient(opts)
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed at %s: %w", opts.Addr, err)
		}
		return nil
	}
}
