package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/metrics"
	"go.jsonbdoc.dev/core/sqlgen"
)

// Fetch selects the rows returned by Execute.
type Fetch int

const (
	// FetchNone returns no rows.
	FetchNone Fetch = iota
	// FetchOne returns the first row, if any.
	FetchOne
	// FetchAll returns every row.
	FetchAll
)

// Row is a fetched result row, keyed on column name. Values are those
// scanned by the driver, with []byte converted to string.
type Row map[string]interface{}

// Execute |stmt| with positional |args| within the Session's transaction,
// returning rows selected by |fetch|. Placeholders of |stmt| are written as
// "?", and are rebound to those of the Session's Dialect.
//
// A statement failure is returned as an *ExecutionError.
func (s *Session) Execute(ctx context.Context, stmt string, args []interface{}, fetch Fetch) ([]Row, error) {
	return s.query(ctx, "execute", sqlgen.Stmt{SQL: s.builder.Rebind(stmt), Args: args}, fetch)
}

// FindSQL executes a query having a "doc" column, and decodes the
// document of each returned row. As with Execute, placeholders of |stmt|
// are written as "?".
func (s *Session) FindSQL(ctx context.Context, stmt string, args []interface{}) ([]document.Document, error) {
	return s.findStmt(ctx, "find_sql", sqlgen.Stmt{SQL: s.builder.Rebind(stmt), Args: args})
}

func (s *Session) findStmt(ctx context.Context, op string, stmt sqlgen.Stmt) ([]document.Document, error) {
	var rows, err = s.query(ctx, op, stmt, FetchAll)
	if err != nil {
		return nil, err
	}
	var out = make([]document.Document, 0, len(rows))

	for _, row := range rows {
		var doc, err = decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func decodeRow(row Row) (document.Document, error) {
	switch v := row[sqlgen.Column].(type) {
	case string:
		return document.Decode([]byte(v))
	case nil:
		return nil, errors.WithMessagef(ErrValidation, "row has no %q value", sqlgen.Column)
	default:
		return nil, errors.WithMessagef(ErrValidation, "row %q is not encoded JSON (%T)", sqlgen.Column, v)
	}
}

// query executes |stmt|, and scans rows selected by |fetch|.
func (s *Session) query(ctx context.Context, op string, stmt sqlgen.Stmt, fetch Fetch) (out []Row, err error) {
	if fetch == FetchNone {
		_, err = s.exec(ctx, op, stmt)
		return nil, err
	}
	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.observe(op, stmt, time.Now(), &err)

	var rows *sql.Rows
	var prepared *sql.Stmt

	if prepared, err = s.prepare(ctx, stmt); err != nil {
		return nil, s.classify(stmt, err)
	} else if prepared != nil {
		rows, err = prepared.QueryContext(ctx, stmt.Args...)
	} else {
		rows, err = s.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	}
	if err != nil {
		return nil, s.classify(stmt, err)
	}
	defer rows.Close()

	if out, err = scanRows(rows, fetch); err != nil {
		return nil, s.classify(stmt, err)
	}
	return out, nil
}

// exec executes |stmt|, returning its sql.Result.
func (s *Session) exec(ctx context.Context, op string, stmt sqlgen.Stmt) (res sql.Result, err error) {
	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	defer s.observe(op, stmt, time.Now(), &err)

	var prepared *sql.Stmt
	if prepared, err = s.prepare(ctx, stmt); err != nil {
		return nil, s.classify(stmt, err)
	} else if prepared != nil {
		res, err = prepared.ExecContext(ctx, stmt.Args...)
	} else {
		res, err = s.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	}
	if err != nil {
		return nil, s.classify(stmt, err)
	}
	return res, nil
}

// prepare returns a cached or newly prepared statement of the current
// transaction. It returns nil if caching is disabled, or if |stmt| has no
// arguments (as is the case for DDL, and savepoint and catalog statements).
func (s *Session) prepare(ctx context.Context, stmt sqlgen.Stmt) (*sql.Stmt, error) {
	if s.stmts == nil || len(stmt.Args) == 0 {
		return nil, nil
	}
	if v, ok := s.stmts.Get(stmt.SQL); ok {
		return v.(*sql.Stmt), nil
	}
	var prepared, err = s.tx.PrepareContext(ctx, stmt.SQL)
	if err != nil {
		return nil, err
	}
	if s.stmts.Add(stmt.SQL, prepared) {
		metrics.StatementCacheEvictionsTotal.Inc()
	}
	return prepared, nil
}

func (s *Session) classify(stmt sqlgen.Stmt, err error) error {
	var ee = &ExecutionError{Statement: stmt.SQL, Err: err}

	if s.dialect.IsUniqueViolation(err) {
		ee.class = ErrDuplicateKey
	} else if s.dialect.IsCheckViolation(err) {
		ee.class = ErrValidation
	}
	return ee
}

func (s *Session) observe(op string, stmt sqlgen.Stmt, started time.Time, err *error) {
	var dur = time.Since(started)
	var status = metrics.Ok
	if *err != nil {
		status = metrics.Fail
	}
	metrics.StatementsTotal.WithLabelValues(s.dialect.Name(), op, status).Inc()
	metrics.StatementDurationSeconds.WithLabelValues(s.dialect.Name(), op).Observe(dur.Seconds())

	var level = log.DebugLevel
	if s.opts.Verbose {
		level = log.InfoLevel
	}
	if !s.log.Logger.IsLevelEnabled(level) {
		return
	}
	var entry = s.log.WithFields(log.Fields{
		"op":   op,
		"stmt": stmt.SQL,
		"args": stmt.Args,
		"dur":  dur,
	})
	if *err != nil {
		entry = entry.WithField("err", *err)
	}
	entry.Log(level, "executed statement")
}

func scanRows(rows *sql.Rows, fetch Fetch) ([]Row, error) {
	var columns, err = rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row

	for rows.Next() {
		var values = make([]interface{}, len(columns))
		var ptrs = make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		var row = make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)

		if fetch == FetchOne {
			break
		}
	}
	return out, rows.Err()
}
