package store

import "go.jsonbdoc.dev/core/sqlgen"

// Options of a Session or Connector.
type Options struct {
	// SkipSetup bypasses the idempotent creation of the document schema
	// when connecting.
	SkipSetup bool
	// Verbose traces connection events and executed statements at Info
	// level, rather than Debug.
	Verbose bool
	// Dialect overrides the SQL dialect inferred from the DSN
	// ("postgres" or "sqlite").
	Dialect string
	// StatementCacheSize is the number of prepared statements cached by each
	// transaction. Zero uses DefaultStatementCacheSize, and a negative
	// value disables caching.
	StatementCacheSize int
	// MaxInsertBatch bounds the documents of a single INSERT statement.
	// Zero uses sqlgen.DefaultMaxInsertBatch.
	MaxInsertBatch int
}

// DefaultStatementCacheSize is the default number of prepared statements
// cached by each transaction.
const DefaultStatementCacheSize = 64

func (o Options) dialect(dsn string) (sqlgen.Dialect, error) {
	if o.Dialect != "" {
		return sqlgen.Named(o.Dialect)
	}
	return sqlgen.ForDSN(dsn)
}

func (o Options) cacheSize() int {
	if o.StatementCacheSize == 0 {
		return DefaultStatementCacheSize
	}
	return o.StatementCacheSize
}

func (o Options) builder(d sqlgen.Dialect) sqlgen.Builder {
	return sqlgen.Builder{Dialect: d, MaxInsertBatch: o.MaxInsertBatch}
}
