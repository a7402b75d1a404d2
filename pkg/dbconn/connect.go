package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	_ "github.com/glebarez/sqlite"    // sqlite driver, registered under "sqlite"
	_ "github.com/go-sql-driver/mysql" // mysql driver, registered under "mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver, registered under "pgx"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/logger"
)

// Connect opens the backend d.Dialect names and returns the handle
// pkg/engine.Engine binds to: sqlDB is set for the three SQL dialects,
// mongoDB for mongo, with the other always nil.
func Connect(ctx context.Context, d dialect.Dialect, cfg Config) (sqlDB bun.IDB, mongoDB *mongo.Database, err error) {
	if d.IsSQL() {
		db, derr := connectSQL(ctx, d, cfg)
		if derr != nil {
			return nil, nil, derr
		}
		return db, nil, nil
	}

	client, derr := connectMongo(ctx, cfg)
	if derr != nil {
		return nil, nil, derr
	}
	return nil, client.Database(databaseNameFromDSN(cfg.DSN)), nil
}

func connectSQL(ctx context.Context, d dialect.Dialect, cfg Config) (*bun.DB, error) {
	driverName, err := driverFor(d)
	if err != nil {
		return nil, err
	}

	native, err := openWithRetry(ctx, driverName, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns != nil {
		native.SetMaxOpenConns(*cfg.MaxOpenConns)
	} else if d == dialect.SQLite {
		native.SetMaxOpenConns(1) // avoid "database is locked" on a concurrent writer
	}
	if cfg.MaxIdleConns != nil {
		native.SetMaxIdleConns(*cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != nil {
		native.SetConnMaxLifetime(*cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime != nil {
		native.SetConnMaxIdleTime(*cfg.ConnMaxIdleTime)
	}

	return bun.NewDB(native, bunDialectFor(d)), nil
}

func driverFor(d dialect.Dialect) (string, error) {
	switch d {
	case dialect.MySQL:
		return "mysql", nil
	case dialect.Postgres:
		return "pgx", nil
	case dialect.SQLite:
		return "sqlite", nil
	default:
		return "", &dialect.UnsupportedError{Dialect: d, Operation: "connect"}
	}
}

func bunDialectFor(d dialect.Dialect) bun.Dialect {
	switch d {
	case dialect.MySQL:
		return mysqldialect.New()
	case dialect.Postgres:
		return pgdialect.New()
	default:
		return sqlitedialect.New()
	}
}

func openWithRetry(ctx context.Context, driverName string, cfg Config) (*sql.DB, error) {
	var db *sql.DB
	var lastErr error

	attempts := cfg.retryAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, cfg.retryDelay(), cfg.retryMaxDelay())
			if cfg.EnableLogging {
				logger.Info("retrying %s connection %q: attempt %d/%d in %v", driverName, cfg.Name, attempt+1, attempts, delay)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var openErr error
		db, openErr = sql.Open(driverName, cfg.DSN)
		if openErr != nil {
			lastErr = openErr
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
		pingErr := db.PingContext(pingCtx)
		cancel()
		if pingErr != nil {
			lastErr = pingErr
			db.Close()
			db = nil
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		return nil, fmt.Errorf("connect %q after %d attempts: %w", cfg.Name, attempts, lastErr)
	}
	if cfg.EnableLogging {
		logger.Info("connection %q established (%s)", cfg.Name, driverName)
	}
	return db, nil
}

func connectMongo(ctx context.Context, cfg Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.DSN).SetConnectTimeout(cfg.connectTimeout())
	if cfg.MaxOpenConns != nil {
		opts.SetMaxPoolSize(uint64(*cfg.MaxOpenConns))
	}
	if cfg.MaxIdleConns != nil {
		opts.SetMinPoolSize(uint64(*cfg.MaxIdleConns))
	}

	var client *mongo.Client
	var lastErr error

	attempts := cfg.retryAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, cfg.retryDelay(), cfg.retryMaxDelay())
			if cfg.EnableLogging {
				logger.Info("retrying mongo connection %q: attempt %d/%d in %v", cfg.Name, attempt+1, attempts, delay)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var connErr error
		client, connErr = mongo.Connect(ctx, opts)
		if connErr != nil {
			lastErr = connErr
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
		pingErr := client.Ping(pingCtx, readpref.Primary())
		cancel()
		if pingErr != nil {
			lastErr = pingErr
			_ = client.Disconnect(ctx)
			client = nil
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		return nil, fmt.Errorf("connect %q after %d attempts: %w", cfg.Name, attempts, lastErr)
	}
	if cfg.EnableLogging {
		logger.Info("mongo connection %q established", cfg.Name)
	}
	return client, nil
}

func backoff(attempt int, initial, max time.Duration) time.Duration {
	delay := initial * time.Duration(math.Pow(2, float64(attempt)))
	if delay > max {
		delay = max
	}
	return delay
}

// databaseNameFromDSN extracts the path component of a mongodb:// URI, the
// database mongo.Client.Database needs and the URI alone does not select.
func databaseNameFromDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

// HealthCheck pings whichever handle is non-nil.
func HealthCheck(ctx context.Context, sqlDB bun.IDB, mongoDB *mongo.Database) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if mongoDB != nil {
		return mongoDB.Client().Ping(healthCtx, readpref.Primary())
	}
	if db, ok := sqlDB.(*bun.DB); ok {
		return db.PingContext(healthCtx)
	}
	return fmt.Errorf("dbconn: no connection to health-check")
}
