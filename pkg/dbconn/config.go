// Package dbconn connects to exactly one of the four backends spec.md §1
// lists (mysql, postgres, sqlite, mongo) and hands back the executor-shaped
// handle pkg/engine.Engine binds to: a bun.IDB for the three SQL dialects,
// a *mongo.Database for mongo. It owns the connect/retry/pool-configure
// lifecycle only — schema discovery is pkg/metadata's job, query execution
// is pkg/sqlexec's/pkg/mongoexec's.
package dbconn

import "time"

// Config is the minimal connection configuration a single backend needs.
// Unlike the teacher's ConnectionConfig interface (one generic shape behind
// several per-field getters, built to serve arbitrary application models),
// this engine only ever opens the one handle Engine.New expects, so a plain
// struct replaces the getter interface without losing any information.
type Config struct {
	Name string
	DSN  string

	MaxOpenConns    *int
	MaxIdleConns    *int
	ConnMaxLifetime *time.Duration
	ConnMaxIdleTime *time.Duration

	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration

	EnableLogging bool
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 10 * time.Second
}

func (c Config) retryAttempts() int {
	if c.RetryAttempts > 0 {
		return c.RetryAttempts
	}
	return 3
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return time.Second
}

func (c Config) retryMaxDelay() time.Duration {
	if c.RetryMaxDelay > 0 {
		return c.RetryMaxDelay
	}
	return 10 * time.Second
}
