package store

import (
	"context"

	"github.com/pkg/errors"
)

// EnsureTable creates the document table and its indices, if they don't
// already exist.
func (s *Session) EnsureTable(ctx context.Context) error {
	for _, stmt := range s.builder.Setup() {
		if _, err := s.exec(ctx, "setup", stmt); err != nil {
			return err
		}
	}
	s.ranSetup = true
	s.purgeStatements()
	return nil
}

// DropTable drops the document table, and every document within it.
// It fails with ErrNotConfirmed unless |confirm|.
func (s *Session) DropTable(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.WithMessage(ErrNotConfirmed, "dropping table")
	}
	s.purgeStatements()

	if _, err := s.exec(ctx, "drop", s.builder.Drop()); err != nil {
		return err
	}
	return nil
}

// ClearTable deletes every document. It fails with ErrNotConfirmed
// unless |confirm|.
func (s *Session) ClearTable(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.WithMessage(ErrNotConfirmed, "clearing table")
	}
	var _, err = s.exec(ctx, "clear", s.builder.Clear())
	return err
}

// Tables lists the names of user tables of the database.
func (s *Session) Tables(ctx context.Context) ([]string, error) {
	var rows, err = s.query(ctx, "tables", s.builder.Tables(), FetchAll)
	if err != nil {
		return nil, err
	}
	var out = make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// purgeStatements releases cached statements, which may be invalidated
// by a schema change.
func (s *Session) purgeStatements() {
	if s.stmts != nil {
		s.stmts.Purge()
	}
}
