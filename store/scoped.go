package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/sqlgen"
)

// WithSession connects a Session and invokes |fn| with it. If |fn| returns
// nil, the Session is committed. If |fn| returns an error or panics, the
// Session is rolled back and the error is returned (or the panic
// re-raised). Either way, the Session is disconnected before WithSession
// returns.
func WithSession(ctx context.Context, dsn string, opts Options, fn func(*Session) error) error {
	var s, err = Connect(ctx, dsn, opts)
	if err != nil {
		return err
	}
	return runScoped(s, fn)
}

func runScoped(s *Session, fn func(*Session) error) (err error) {
	defer func() {
		var r = recover()

		if (r != nil || err != nil) && s.state == Open {
			if rbErr := s.Rollback(); rbErr != nil {
				s.log.WithField("err", rbErr).Warn("failed to roll back session")
			}
		}
		if dErr := s.Disconnect(); dErr != nil && err == nil && r == nil {
			err = dErr
		}
		if r != nil {
			panic(r)
		}
	}()

	// |fn| may itself have closed or committed the Session.
	if err = fn(s); err == nil && s.state == Open {
		err = s.Commit()
	}
	return err
}

// Connector is a reusable factory of Sessions to a DSN. Each Run opens a
// fresh Session which is committed or rolled back as with WithSession.
// Sessions share a pool of connections.
//
// Only the first Run of a Connector sets up the document schema (unless
// Options.SkipSetup). Setup is committed before that Run's function is
// invoked, and Runs which begin before it completes wait for it. Runs may
// nest, and a Connector is safe for concurrent use.
type Connector struct {
	opts    Options
	dialect sqlgen.Dialect
	db      *sql.DB

	mu        sync.Mutex
	setupDone bool
}

// NewConnector returns a Connector of |dsn|. Connections are established
// as Sessions are run.
func NewConnector(dsn string, opts Options) (*Connector, error) {
	var dialect, err = opts.dialect(dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "resolving dialect")
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "opening database")
	}
	return &Connector{
		opts:      opts,
		dialect:   dialect,
		db:        db,
		setupDone: opts.SkipSetup,
	}, nil
}

// Run |fn| with a fresh Session.
func (c *Connector) Run(ctx context.Context, fn func(*Session) error) error {
	var s, err = c.session(ctx)
	if err != nil {
		return err
	}
	return runScoped(s, fn)
}

// session begins a Session. If the schema isn't yet set up, the Session
// does so and commits before it's returned. c.mu is held only for setup.
func (c *Connector) session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.setupDone {
		c.mu.Unlock()
		return newSession(ctx, c.db, c.dialect, c.opts, false)
	}
	defer c.mu.Unlock()

	var s, err = newSession(ctx, c.db, c.dialect, c.opts, true)
	if err != nil {
		return nil, err
	}
	if err = s.Commit(); err == nil {
		err = s.Reopen(ctx)
	}
	if err != nil {
		// The next Run attempts setup again.
		_ = s.Disconnect()
		return nil, errors.WithMessage(err, "committing schema setup")
	}
	c.setupDone = true

	log.WithFields(log.Fields{
		"dialect": c.dialect.Name(),
	}).Debug("connector completed schema setup")
	return s, nil
}

// Wrap returns a function which Runs |fn|, passing the Session as its
// first argument after the Context.
func (c *Connector) Wrap(fn func(context.Context, *Session) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return c.Run(ctx, func(s *Session) error { return fn(ctx, s) })
	}
}

// Close the Connector's pool of connections.
func (c *Connector) Close() error { return c.db.Close() }
