// Package sqlgen renders document operations into parameterized SQL over the
// single-table document schema, for a supported SQL Dialect.
//
// Every value which originates from a caller (patterns, documents, paths,
// deltas, limits, and arguments of caller-provided SQL fragments) is passed
// as a bound argument. Statement text is composed only of fixed fragments,
// and of SQL fragments which the caller explicitly provides.
//
// Statements are written with neutral "?" placeholders, and rebound to the
// Dialect's placeholder syntax as a final step.
package sqlgen

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
)

// Table and Column names of the document schema. They're fixed by
// convention, and are not configurable.
const (
	Table  = "documents"
	Column = "doc"
)

// Dialect captures the engine-specific SQL of the document schema.
// Fragments returned by a Dialect use "?" placeholders, and are returned
// with their bound arguments in placeholder order.
type Dialect interface {
	// Name of the Dialect, eg "postgres".
	Name() string
	// DriverName is the database/sql driver name used to open connections.
	DriverName() string
	// BindType of the driver's placeholders, as understood by sqlx.Rebind.
	BindType() int

	// Setup returns idempotent statements which create the document schema.
	Setup() []string
	// Drop returns a statement which drops the document table, if it exists.
	Drop() string
	// Tables returns a query of user tables, having a single column "name".
	Tables() string

	// ID is an expression which extracts the "_id" of Column as text.
	ID() string
	// DocParam is a placeholder expression which binds an encoded document.
	DocParam() string
	// Contains returns a predicate which matches documents containing |pattern|.
	Contains(pattern document.Document) (string, []interface{}, error)
	// TypeOf returns an expression evaluating to the JSON type name of the
	// value at |path|, or NULL if there's no such value.
	TypeOf(path document.Path) (string, []interface{}, error)
	// NumberTypes are TypeOf names of numeric values.
	NumberTypes() []string
	// ArrayType is the TypeOf name of array values.
	ArrayType() string
	// Increment returns an expression of Column, having |delta| added to
	// the number at |path|.
	Increment(path document.Path, delta interface{}) (string, []interface{}, error)
	// Append returns an expression of Column, having encoded JSON |value|
	// appended to the array at |path|.
	Append(path document.Path, value []byte) (string, []interface{}, error)

	// IsUniqueViolation returns whether |err| is a driver error reporting a
	// violated uniqueness constraint.
	IsUniqueViolation(err error) bool
	// IsCheckViolation returns whether |err| is a driver error reporting a
	// violated CHECK constraint.
	IsCheckViolation(err error) bool
}

// Named returns the Dialect of the given name.
func Named(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, errors.Errorf("unknown dialect %q", name)
	}
}

// ForDSN infers the Dialect of a connection string.
//
// URLs with scheme "postgres" or "postgresql", and "key=value" connection
// strings, are Postgres. URLs with scheme "file", ":memory:",
// and plain paths ending in ".db", ".sqlite" or ".sqlite3" are SQLite.
func ForDSN(dsn string) (Dialect, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "postgres", "postgresql":
			return Postgres{}, nil
		case "file":
			return SQLite{}, nil
		}
	}
	if strings.HasPrefix(dsn, ":memory:") {
		return SQLite{}, nil
	}
	switch filepath.Ext(strings.SplitN(dsn, "?", 2)[0]) {
	case ".db", ".sqlite", ".sqlite3":
		return SQLite{}, nil
	}
	if strings.Contains(dsn, "=") {
		return Postgres{}, nil
	}
	return nil, errors.Errorf("cannot infer dialect of DSN %q", dsn)
}
