// Package store provides storage backends for routinekit.
//
// Three backends implement the engine's store ports: an in-memory store for
// tests and throwaway runs, SQLite for single-node deployments, and
// PostgreSQL for everything else. Templates and instances are persisted as
// JSON documents keyed by their ids; tasks, pending clarifications and the
// audit log live in plain relational tables.
package store

import (
	"strings"

	"github.com/neurospicy/routinekit/internal/routine"
)

// Store combines every store port the engine needs plus lifecycle control,
// so one backend value can serve all of them.
type Store interface {
	routine.TemplateStore
	routine.InstanceStore
	routine.TaskStore
	routine.ClarificationStore
	routine.EventLog
	Close() error
}

// Opts holds configuration options shared by the database-backed stores.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite, a
	// postgres:// URL or key=value string for PostgreSQL.
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that is
// not recognizably PostgreSQL is treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
