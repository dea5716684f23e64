package main

import (
	"context"
	stderrors "errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/config"
	"github.com/rohankatakam/shopgraph/internal/graph"
	"github.com/rohankatakam/shopgraph/internal/history"
	"github.com/rohankatakam/shopgraph/internal/lock"
	"github.com/rohankatakam/shopgraph/internal/logging"
	"github.com/rohankatakam/shopgraph/internal/migration"
	"github.com/rohankatakam/shopgraph/internal/readiness"
	"github.com/rohankatakam/shopgraph/internal/source"
	"github.com/rohankatakam/shopgraph/internal/validation"
)

// neo4jOptions maps config onto client options
func neo4jOptions(cfg *config.Config, log logrus.FieldLogger) graph.ClientOptions {
	return graph.ClientOptions{
		URI:         cfg.Neo4j.URI,
		User:        cfg.Neo4j.User,
		Password:    cfg.Neo4j.Password,
		Database:    cfg.Neo4j.Database,
		MaxPoolSize: cfg.Neo4j.MaxPoolSize,
		Logger:      log,
	}
}

// sourceProbe pings the relational source. Postgres DSNs go through pgx;
// other drivers through database/sql.
func sourceProbe(cfg *config.Config) readiness.Probe {
	switch cfg.Postgres.Driver {
	case "postgres", "pgx":
		return readiness.PostgresProbe(cfg.Postgres.DSN)
	}
	return func(ctx context.Context) error {
		r, err := source.Open(cfg.Postgres.Driver, cfg.Postgres.DSN, source.Options{MaxOpenConns: 1})
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Ping(ctx)
	}
}

// newGate builds the readiness gate. Dry runs never touch the graph store.
func newGate(cfg *config.Config, log logrus.FieldLogger, withGraph bool) *readiness.Gate {
	targets := []readiness.Target{{Name: "postgres", Probe: sourceProbe(cfg)}}
	if withGraph {
		targets = append(targets, readiness.Target{
			Name:  "neo4j",
			Probe: readiness.Neo4jProbe(neo4jOptions(cfg, log)),
		})
	}
	if cfg.Redis.Addr != "" {
		targets = append(targets, readiness.Target{
			Name: "redis",
			Probe: readiness.RedisProbe(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}),
		})
	}
	return readiness.NewGate(targets, cfg.ReadinessPolicy(), cfg.Readiness.Timeout, log)
}

func newWriter(cfg *config.Config, exec graph.Executor, observer graph.BatchObserver, log logrus.FieldLogger) *graph.Writer {
	return graph.NewWriter(exec, graph.WriterOptions{
		Batches:         graph.NewBatchConfig(cfg.Migration.BatchSize, cfg.Migration.BatchSizes),
		Retry:           cfg.BatchRetryPolicy(),
		Workers:         cfg.Migration.Workers,
		WritesPerSecond: cfg.Migration.WritesPerSecond,
		WipeBatchSize:   cfg.Migration.WipeBatchSize,
		Observer:        observer,
		Logger:          log,
	})
}

// newOpener opens a reader and a graph store per run and closes both after it
func newOpener(cfg *config.Config, log logrus.FieldLogger, observer graph.BatchObserver, dryRun bool) migration.Opener {
	return func(ctx context.Context) (*migration.Resources, error) {
		reader, err := source.Open(cfg.Postgres.Driver, cfg.Postgres.DSN, source.Options{
			ChunkSize:    cfg.Migration.ChunkSize,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}

		gate := newGate(cfg, log, !dryRun)

		if dryRun {
			return &migration.Resources{
				Gate:   gate,
				Source: reader,
				Store:  graph.NewMemoryStore(),
				Close:  reader.Close,
			}, nil
		}

		client, err := graph.NewClient(neo4jOptions(cfg, log))
		if err != nil {
			reader.Close()
			return nil, err
		}

		return &migration.Resources{
			Gate:   gate,
			Source: reader,
			Store:  newWriter(cfg, client, observer, log),
			Close: func() error {
				return stderrors.Join(reader.Close(), client.Close(context.Background()))
			},
		}, nil
	}
}

// newRunLock returns nil when no Redis address is configured
func newRunLock(cfg *config.Config, log logrus.FieldLogger) *lock.RedisLock {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := lock.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	return lock.NewRedisLock(client, cfg.Redis.LockKey, cfg.Redis.LockTTL, log)
}

func openHistory(cfg *config.Config, log logrus.FieldLogger) (*history.Store, error) {
	return history.Open(cfg.History.Path, history.Options{Retain: cfg.History.Retain, Logger: log})
}

// newRunner assembles a runner; the returned cleanup closes the lock client
// and the history file
func newRunner(cfg *config.Config, log logrus.FieldLogger, observer migration.Observer, batches graph.BatchObserver, dryRun bool) (*migration.Runner, *history.Store, func(), error) {
	store, err := openHistory(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := migration.RunnerOptions{
		Timeout:  cfg.Migration.RunTimeout,
		DryRun:   dryRun,
		History:  store,
		Observer: observer,
		Logger:   log,
	}

	runLock := newRunLock(cfg, log)
	if runLock != nil && !dryRun {
		opts.Lock = runLock
	}

	cleanup := func() {
		if runLock != nil {
			runLock.Close()
		}
		store.Close()
	}
	return migration.NewRunner(newOpener(cfg, log, batches, dryRun), opts), store, cleanup, nil
}

// newValidateFunc counts both sides over fresh connections per call
func newValidateFunc(cfg *config.Config, log logrus.FieldLogger) func(ctx context.Context) (*validation.Summary, error) {
	return func(ctx context.Context) (*validation.Summary, error) {
		reader, err := source.Open(cfg.Postgres.Driver, cfg.Postgres.DSN, source.Options{
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		client, err := graph.NewClient(neo4jOptions(cfg, log))
		if err != nil {
			return nil, err
		}
		defer client.Close(context.Background())

		v := validation.NewConsistencyValidator(reader, newWriter(cfg, client, nil, log), 0, log)
		return v.Validate(ctx)
	}
}

// loggerFor returns a component logger
func loggerFor(name string) logrus.FieldLogger {
	return logging.Component(logger.Logger, name)
}

// validateConfig fails with a Config error and logs warnings
func validateConfig(ctx config.ValidationContext) error {
	result := cfg.Validate(ctx)
	result.LogWarnings(logger)
	return result.Err()
}
