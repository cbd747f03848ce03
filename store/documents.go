package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/metrics"
	"go.jsonbdoc.dev/core/sqlgen"
)

// Find returns documents which contain |pattern|. |whereEtc| is SQL appended
// after the containment predicate, such as "AND ..." conditions, an ORDER BY,
// or a LIMIT, and its "?" placeholders are bound to |argsEtc|. If |limit| is
// positive, at most |limit| documents are returned.
//
// Find returns an empty, non-nil slice if no document matches. Order is
// unspecified unless |whereEtc| orders the query. See sqlgen.Builder.Find
// regarding "?" within |whereEtc| on Postgres.
func (s *Session) Find(ctx context.Context, pattern document.Document, whereEtc string, argsEtc []interface{}, limit int) ([]document.Document, error) {
	var stmt, err = s.builder.Find(pattern, whereEtc, argsEtc, limit)
	if err != nil {
		return nil, err
	}
	return s.findStmt(ctx, "find", stmt)
}

// FindOne returns the first document which contains |pattern|, and true,
// or false if no document matches.
func (s *Session) FindOne(ctx context.Context, pattern document.Document, whereEtc string, argsEtc ...interface{}) (document.Document, bool, error) {
	var docs, err = s.Find(ctx, pattern, whereEtc, argsEtc, 1)
	return firstOf(docs, err)
}

// FindByID returns the document having |id|, and true, or false if
// there's no such document.
func (s *Session) FindByID(ctx context.Context, id string) (document.Document, bool, error) {
	var stmt, err = s.builder.FindByID(id)
	if err != nil {
		return nil, false, err
	}
	docs, err := s.findStmt(ctx, "find", stmt)
	return firstOf(docs, err)
}

func firstOf(docs []document.Document, err error) (document.Document, bool, error) {
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

// InsertOne inserts |doc|. It fails with ErrDuplicateKey if its "_id" exists.
func (s *Session) InsertOne(ctx context.Context, doc document.Document) error {
	return s.InsertMany(ctx, []document.Document{doc})
}

// InsertMany inserts |docs| as a unit. Every document is validated before
// any is written, and if any insert fails (for example with ErrDuplicateKey)
// none of |docs| are applied.
func (s *Session) InsertMany(ctx context.Context, docs []document.Document) error {
	var stmts, err = s.builder.Insert(docs)
	if err != nil {
		return err
	}
	// A failed statement aborts the whole transaction on Postgres,
	// but not if it's rolled back to an enclosing savepoint.
	err = s.savepoint(ctx, "jsonbdoc_insert", func() error {
		for _, stmt := range stmts {
			if _, err := s.exec(ctx, "insert", stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		metrics.DocumentsWrittenTotal.WithLabelValues(s.dialect.Name(), "insert").Add(float64(len(docs)))
	}
	return err
}

// ReplaceOne overwrites the stored document having the "_id" of |doc|.
// It fails with ErrNotFound if there's no such document.
func (s *Session) ReplaceOne(ctx context.Context, doc document.Document) error {
	var stmt, err = s.builder.Replace(doc)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, "replace", stmt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return &ExecutionError{Statement: stmt.SQL, Err: err}
	} else if n == 0 {
		return errors.WithMessagef(ErrNotFound, "replacing _id %q", doc.ID())
	}
	metrics.DocumentsWrittenTotal.WithLabelValues(s.dialect.Name(), "replace").Inc()
	return nil
}

// ReplaceMany replaces each of |docs| as a unit: if any replacement fails,
// none are applied.
func (s *Session) ReplaceMany(ctx context.Context, docs []document.Document) error {
	for i, doc := range docs {
		if err := doc.Validate(); err != nil {
			return errors.WithMessagef(err, "document %d", i)
		}
	}
	return s.savepoint(ctx, "jsonbdoc_replace", func() error {
		for _, doc := range docs {
			if err := s.ReplaceOne(ctx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteOne deletes the document having |id|. Deleting an absent
// document is not an error.
func (s *Session) DeleteOne(ctx context.Context, id string) error {
	var stmt, err = s.builder.Delete(id)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, "delete", stmt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		metrics.DocumentsWrittenTotal.WithLabelValues(s.dialect.Name(), "delete").Add(float64(n))
	}
	return nil
}

// Incr atomically adds |delta| to the number at |path| of the first
// document (ordered on "_id") which contains |filter|. It fails with
// ErrNotFound if no document contains |filter|, and with ErrTypeMismatch
// if the value at |path| is missing or is not a number.
func (s *Session) Incr(ctx context.Context, filter document.Document, path document.Path, delta float64) error {
	var stmt, err = s.builder.Increment(filter, path, delta)
	if err != nil {
		return err
	}
	return s.guardedUpdate(ctx, "incr", stmt, filter, path, "a number")
}

// Decr atomically subtracts |delta| from the number at |path|, as does Incr.
func (s *Session) Decr(ctx context.Context, filter document.Document, path document.Path, delta float64) error {
	return s.Incr(ctx, filter, path, -delta)
}

// Push atomically appends |value| to the array at |path| of the first
// document (ordered on "_id") which contains |filter|. It fails with
// ErrNotFound if no document contains |filter|, and with ErrTypeMismatch
// if the value at |path| is missing or is not an array.
func (s *Session) Push(ctx context.Context, filter document.Document, path document.Path, value interface{}) error {
	var stmt, err = s.builder.Append(filter, path, value)
	if err != nil {
		return err
	}
	return s.guardedUpdate(ctx, "push", stmt, filter, path, "an array")
}

// guardedUpdate executes an update which is a no-op if its target document
// doesn't exist or has the wrong type at |path|, and probes for which.
func (s *Session) guardedUpdate(ctx context.Context, op string, stmt sqlgen.Stmt, filter document.Document, path document.Path, want string) error {
	var res, err = s.exec(ctx, op, stmt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return &ExecutionError{Statement: stmt.SQL, Err: err}
	} else if n != 0 {
		return nil
	}

	probe, err := s.builder.Probe(filter, path)
	if err != nil {
		return err
	}
	rows, err := s.query(ctx, "probe", probe, FetchOne)
	if err != nil {
		return err
	} else if len(rows) == 0 {
		var b, _ = document.Marshal(filter)
		return errors.WithMessagef(ErrNotFound, "no document contains %s", b)
	} else if kind := rows[0]["kind"]; kind == nil {
		return errors.WithMessagef(ErrTypeMismatch, "%s is missing (expected %s)", path, want)
	} else {
		return errors.WithMessagef(ErrTypeMismatch, "%s is %s (expected %s)", path, fmt.Sprint(kind), want)
	}
}

// savepoint runs |fn| within a savepoint of the current transaction, which
// is rolled back if |fn| fails.
func (s *Session) savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := s.exec(ctx, "savepoint", sqlgen.Stmt{SQL: "SAVEPOINT " + name}); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := s.exec(ctx, "savepoint", sqlgen.Stmt{SQL: "ROLLBACK TO SAVEPOINT " + name}); rbErr != nil {
			s.log.WithField("err", rbErr).Warn("failed to roll back to savepoint")
		} else {
			_, _ = s.exec(ctx, "savepoint", sqlgen.Stmt{SQL: "RELEASE SAVEPOINT " + name})
		}
		return err
	}
	var _, err = s.exec(ctx, "savepoint", sqlgen.Stmt{SQL: "RELEASE SAVEPOINT " + name})
	return err
}
