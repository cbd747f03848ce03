// Package store is a document store over a single SQL table having a JSON
// document column. A Session owns one physical connection and at most one
// open transaction, through which documents are found, inserted, replaced,
// deleted, and atomically modified.
//
// Sessions are obtained from Connect, from the scoped WithSession, or from a
// reusable Connector. A Session is not safe for concurrent use. Independent
// Sessions (each with its own connection) may be used concurrently, and
// isolation between them is that of the engine's transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/metrics"
	"go.jsonbdoc.dev/core/sqlgen"
)

// State of a Session.
type State int

const (
	// Disconnected Sessions have released their connection.
	Disconnected State = iota
	// Open Sessions have a transaction in progress.
	Open
	// Committed Sessions have committed their transaction, and may be Reopened.
	Committed
	// RolledBack Sessions have rolled back their transaction, and may be Reopened.
	RolledBack
	// Closed Sessions have committed their transaction through Close,
	// and may be Reopened.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Open:
		return "open"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a physical connection to the engine and its current transaction.
type Session struct {
	dialect sqlgen.Dialect
	builder sqlgen.Builder
	opts    Options

	db     *sql.DB
	ownsDB bool // Whether |db| is closed on Disconnect.
	conn   *sql.Conn
	tx     *sql.Tx
	state  State

	// Prepared statements of |tx|, keyed on statement text.
	// Nil if caching is disabled.
	stmts *lru.Cache

	ranSetup bool
	log      *log.Entry
}

// Connect opens a physical connection to |dsn| and begins a transaction. The
// document schema is created if it doesn't exist, unless Options.SkipSetup.
// The returned Session is Open.
func Connect(ctx context.Context, dsn string, opts Options) (*Session, error) {
	var dialect, err = opts.dialect(dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "resolving dialect")
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "opening database")
	}

	s, err := newSession(ctx, db, dialect, opts, !opts.SkipSetup)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func newSession(ctx context.Context, db *sql.DB, dialect sqlgen.Dialect, opts Options, setup bool) (*Session, error) {
	var s = &Session{
		dialect: dialect,
		builder: opts.builder(dialect),
		opts:    opts,
		db:      db,
		log:     log.WithField("dialect", dialect.Name()),
	}

	if size := opts.cacheSize(); size > 0 {
		// NewWithEvict fails only for a non-positive size.
		s.stmts, _ = lru.NewWithEvict(size, func(_, value interface{}) {
			_ = value.(*sql.Stmt).Close()
		})
	}

	var err error
	if s.conn, err = db.Conn(ctx); err != nil {
		return nil, &ExecutionError{Err: errors.WithMessage(err, "connecting")}
	}
	if s.tx, err = s.conn.BeginTx(ctx, nil); err != nil {
		_ = s.conn.Close()
		return nil, &ExecutionError{Err: errors.WithMessage(err, "beginning transaction")}
	}
	s.state = Open
	s.trace("connected")

	if setup {
		if err = s.EnsureTable(ctx); err != nil {
			_ = s.Disconnect()
			return nil, errors.WithMessage(err, "setting up schema")
		}
	}
	return s, nil
}

// Dialect of the Session.
func (s *Session) Dialect() sqlgen.Dialect { return s.dialect }

// State of the Session.
func (s *Session) State() State { return s.state }

// RanSetup returns whether the Session created the document schema
// (if it didn't already exist) when it was connected.
func (s *Session) RanSetup() bool { return s.ranSetup }

// Commit the current transaction. The Session remains connected, and may
// be Reopened.
func (s *Session) Commit() error { return s.commit(Committed) }

// Close commits the current transaction. The physical connection is
// retained, and Reopen begins a new transaction upon it.
func (s *Session) Close() error { return s.commit(Closed) }

func (s *Session) commit(next State) error {
	if s.state != Open {
		return ErrSessionClosed
	}
	var err = s.tx.Commit()
	s.endTxn()

	if err != nil {
		s.state = RolledBack
		metrics.SessionsTotal.WithLabelValues(s.dialect.Name(), metrics.RolledBack).Inc()
		return &ExecutionError{Statement: "COMMIT", Err: err}
	}
	s.state = next
	metrics.SessionsTotal.WithLabelValues(s.dialect.Name(), metrics.Committed).Inc()
	s.trace("committed")
	return nil
}

// Rollback the current transaction. The Session remains connected, and may
// be Reopened.
func (s *Session) Rollback() error {
	if s.state != Open {
		return ErrSessionClosed
	}
	var err = s.tx.Rollback()
	s.endTxn()
	s.state = RolledBack
	metrics.SessionsTotal.WithLabelValues(s.dialect.Name(), metrics.RolledBack).Inc()

	if err != nil {
		return &ExecutionError{Statement: "ROLLBACK", Err: err}
	}
	s.trace("rolled back")
	return nil
}

// Reopen begins a new transaction on the connection of a Session which was
// Closed, Committed, or RolledBack. Schema setup is not repeated.
func (s *Session) Reopen(ctx context.Context) error {
	switch s.state {
	case Open:
		return errors.New("session is already open")
	case Disconnected:
		return ErrSessionClosed
	}
	var tx, err = s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &ExecutionError{Err: errors.WithMessage(err, "beginning transaction")}
	}
	s.tx, s.state = tx, Open
	s.trace("reopened")
	return nil
}

// Disconnect rolls back a current transaction, and releases the Session's
// connection. Disconnect of a Disconnected Session is a no-op.
func (s *Session) Disconnect() error {
	if s.state == Disconnected {
		return nil
	}
	var err error
	if s.state == Open {
		err = s.Rollback()
	}
	if cErr := s.conn.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if s.ownsDB {
		if cErr := s.db.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	s.state, s.conn = Disconnected, nil
	s.trace("disconnected")
	return err
}

// endTxn releases prepared statements of the finished transaction.
func (s *Session) endTxn() {
	s.purgeStatements()
	s.tx = nil
}

func (s *Session) checkOpen() error {
	if s.state != Open {
		return errors.WithMessagef(ErrSessionClosed, "session is %s", s.state)
	}
	return nil
}

func (s *Session) trace(event string) {
	var level = log.DebugLevel
	if s.opts.Verbose {
		level = log.InfoLevel
	}
	s.log.Log(level, event)
}
