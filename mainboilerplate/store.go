package mainboilerplate

import (
	"context"

	"go.jsonbdoc.dev/core/store"
)

// StoreConfig configures the connection of a program to its document store.
type StoreConfig struct {
	DSN       string `long:"dsn" env:"DSN" required:"true" description:"Database connection string, eg postgres://user@host/db or file:docs.db"`
	Dialect   string `long:"dialect" env:"DIALECT" choice:"postgres" choice:"sqlite" description:"SQL dialect. Inferred from the DSN if not set"`
	SkipSetup bool   `long:"skip-setup" env:"SKIP_SETUP" description:"Don't create the document table if it's missing"`
	Verbose   bool   `long:"verbose" env:"VERBOSE" description:"Log connection events and executed statements at info level"`
	StmtCache int    `long:"stmt-cache" env:"STMT_CACHE" default:"64" description:"Prepared statements cached per transaction. Negative disables caching"`
	BatchSize int    `long:"insert-batch" env:"INSERT_BATCH" default:"500" description:"Maximum documents of a single INSERT statement"`
}

// Options of the StoreConfig.
func (cfg StoreConfig) Options() store.Options {
	return store.Options{
		SkipSetup:          cfg.SkipSetup,
		Verbose:            cfg.Verbose,
		Dialect:            cfg.Dialect,
		StatementCacheSize: cfg.StmtCache,
		MaxInsertBatch:     cfg.BatchSize,
	}
}

// MustConnect returns a connected Session of the StoreConfig.
func (cfg StoreConfig) MustConnect(ctx context.Context) *store.Session {
	var s, err = store.Connect(ctx, cfg.DSN, cfg.Options())
	Must(err, "failed to connect to document store")
	return s
}

// MustConnector returns a Connector of the StoreConfig.
func (cfg StoreConfig) MustConnector() *store.Connector {
	var c, err = store.NewConnector(cfg.DSN, cfg.Options())
	Must(err, "failed to build document store connector")
	return c
}
