package sqlgen

import (
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
)

// Postgres is the Dialect of PostgreSQL, using JSONB and the
// github.com/lib/pq driver.
//
// Containment uses the native JSONB "@>" operator, which is accelerated by a
// GIN index of the document column. As "@>" treats arrays as sets (a pattern
// array matches any superset), each array of a pattern is additionally
// required to equal the document's array at the same path.
type Postgres struct{}

// Codes of github.com/lib/pq errors. See
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation pq.ErrorCode = "23505"
	pqCheckViolation  pq.ErrorCode = "23514"
)

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }
func (Postgres) BindType() int      { return sqlx.DOLLAR }

func (Postgres) Setup() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
	id  BIGSERIAL PRIMARY KEY,
	doc JSONB     NOT NULL,
	CONSTRAINT documents_id_str CHECK (
		doc->'_id' IS NOT NULL
		AND jsonb_typeof(doc->'_id') = 'string'
		AND doc->>'_id' <> ''
	)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS documents_id_unq ON documents ((doc->>'_id'))`,
		`CREATE INDEX IF NOT EXISTS documents_doc_gin ON documents USING GIN (doc jsonb_path_ops)`,
	}
}

func (Postgres) Drop() string { return `DROP TABLE IF EXISTS documents` }

func (Postgres) Tables() string {
	return `SELECT tablename AS name FROM pg_catalog.pg_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
ORDER BY tablename`
}

func (Postgres) ID() string       { return `doc->>'_id'` }
func (Postgres) DocParam() string { return `?::jsonb` }

func (Postgres) Contains(pattern document.Document) (string, []interface{}, error) {
	var b, err = document.Marshal(patternOrEmpty(pattern))
	if err != nil {
		return "", nil, err
	}
	leaves, err := document.ArrayLeaves(pattern)
	if err != nil {
		return "", nil, err
	}

	var clause = `doc @> ?::jsonb`
	var args = []interface{}{string(b)}

	for _, leaf := range leaves {
		var arr, err = document.Marshal(leaf.Value)
		if err != nil {
			return "", nil, err
		}
		clause += ` AND doc #> ?::text[] = ?::jsonb`
		args = append(args, pqPath(leaf.Path), string(arr))
	}
	return clause, args, nil
}

func (Postgres) TypeOf(path document.Path) (string, []interface{}, error) {
	if err := path.Validate(); err != nil {
		return "", nil, err
	}
	return `jsonb_typeof(doc #> ?::text[])`, []interface{}{pqPath(path)}, nil
}

func (Postgres) NumberTypes() []string { return []string{"number"} }
func (Postgres) ArrayType() string     { return "array" }

func (Postgres) Increment(path document.Path, delta interface{}) (string, []interface{}, error) {
	if err := path.Validate(); err != nil {
		return "", nil, err
	}
	return `jsonb_set(doc, ?::text[], to_jsonb((doc #>> ?::text[])::numeric + ?::numeric))`,
		[]interface{}{pqPath(path), pqPath(path), delta}, nil
}

func (Postgres) Append(path document.Path, value []byte) (string, []interface{}, error) {
	if err := path.Validate(); err != nil {
		return "", nil, err
	}
	return `jsonb_set(doc, ?::text[], (doc #> ?::text[]) || jsonb_build_array(?::jsonb))`,
		[]interface{}{pqPath(path), pqPath(path), string(value)}, nil
}

func (Postgres) IsUniqueViolation(err error) bool { return pqErrorCode(err) == pqUniqueViolation }
func (Postgres) IsCheckViolation(err error) bool  { return pqErrorCode(err) == pqCheckViolation }

func pqErrorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// pqPath binds a Path as a Postgres text[] array.
func pqPath(p document.Path) interface{} { return pq.Array([]string(p)) }

func patternOrEmpty(p document.Document) document.Document {
	if p == nil {
		return document.Document{}
	}
	return p
}
