// Package shell holds a process-wide "current" Session, for interactive and
// debugging use such as the docctl shell command.
//
// The current Session is a convenience for a single user at a terminal. It's
// not intended for use by concurrent code: library code and services should
// own their Sessions explicitly, through store.Connect, store.WithSession,
// or a store.Connector.
package shell

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/store"
)

// ErrNoSession is returned if there is no current Session.
var ErrNoSession = errors.New("no current session (use Connect)")

var (
	mu      sync.Mutex
	current *store.Session
)

// Connect a Session to |dsn| and make it current. A previous current
// Session is disconnected, rolling back any uncommitted work.
func Connect(ctx context.Context, dsn string, opts store.Options) (*store.Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		if err := current.Disconnect(); err != nil {
			log.WithField("err", err).Warn("failed to disconnect previous session")
		}
		current = nil
	}

	var s, err = store.Connect(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	current = s

	log.WithFields(log.Fields{
		"dialect":  s.Dialect().Name(),
		"ranSetup": s.RanSetup(),
	}).Info("connected session (Close to commit, Reopen to continue)")
	return s, nil
}

// Current returns the current Session.
func Current() (*store.Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return nil, ErrNoSession
	}
	return current, nil
}

// Close commits the current Session. It may be continued with Reopen.
func Close() error {
	var s, err = Current()
	if err != nil {
		return err
	}
	if err = s.Close(); err != nil {
		return err
	}
	log.Info("committed and closed session (Reopen to continue)")
	return nil
}

// Reopen begins a new transaction of the current, closed Session.
func Reopen(ctx context.Context) error {
	var s, err = Current()
	if err != nil {
		return err
	}
	if err = s.Reopen(ctx); err != nil {
		return err
	}
	log.Info("reopened session")
	return nil
}

// Rollback the current Session. It may be continued with Reopen.
func Rollback() error {
	var s, err = Current()
	if err != nil {
		return err
	}
	if err = s.Rollback(); err != nil {
		return err
	}
	log.Info("rolled back session (Reopen to continue)")
	return nil
}

// Disconnect the current Session, rolling back uncommitted work. Afterward
// there is no current Session.
func Disconnect() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return nil
	}
	var err = current.Disconnect()
	current = nil
	return err
}
