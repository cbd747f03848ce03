package sqlgen

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
)

// SQLite is the Dialect of SQLite using its JSON functions, and the
// github.com/mattn/go-sqlite3 driver.
//
// SQLite has no native containment operator. Connections opened through
// SQLiteDriverName have a deterministic json_contains(doc, pattern) function
// registered, which implements document.Contains.
type SQLite struct{}

// SQLiteDriverName is the database/sql driver registered by this package.
// It's github.com/mattn/go-sqlite3, having json_contains registered on
// every new connection.
const SQLiteDriverName = "sqlite3_jsonbdoc"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("json_contains", sqliteContains, true)
		},
	})
}

func sqliteContains(doc, pattern string) (bool, error) {
	return document.ContainsJSON([]byte(doc), []byte(pattern))
}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return SQLiteDriverName }
func (SQLite) BindType() int      { return sqlx.QUESTION }

func (SQLite) Setup() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
	id  INTEGER PRIMARY KEY,
	doc TEXT    NOT NULL CHECK (
		json_valid(doc)
		AND coalesce(json_type(doc, '$._id'), '') = 'text'
		AND json_extract(doc, '$._id') <> ''
	)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS documents_id_unq ON documents (json_extract(doc, '$._id'))`,
	}
}

func (SQLite) Drop() string { return `DROP TABLE IF EXISTS documents` }

func (SQLite) Tables() string {
	return `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`
}

func (SQLite) ID() string       { return `json_extract(doc, '$._id')` }
func (SQLite) DocParam() string { return `json(?)` }

func (SQLite) Contains(pattern document.Document) (string, []interface{}, error) {
	var b, err = document.Marshal(patternOrEmpty(pattern))
	if err != nil {
		return "", nil, err
	}
	return `json_contains(doc, ?)`, []interface{}{string(b)}, nil
}

func (SQLite) TypeOf(path document.Path) (string, []interface{}, error) {
	var jp, err = sqlitePath(path)
	if err != nil {
		return "", nil, err
	}
	return `json_type(doc, ?)`, []interface{}{jp}, nil
}

func (SQLite) NumberTypes() []string { return []string{"integer", "real"} }
func (SQLite) ArrayType() string     { return "array" }

func (SQLite) Increment(path document.Path, delta interface{}) (string, []interface{}, error) {
	var jp, err = sqlitePath(path)
	if err != nil {
		return "", nil, err
	}
	return `json_set(doc, ?, json_extract(doc, ?) + ?)`, []interface{}{jp, jp, delta}, nil
}

func (SQLite) Append(path document.Path, value []byte) (string, []interface{}, error) {
	var jp, err = sqlitePath(path)
	if err != nil {
		return "", nil, err
	}
	return `json_insert(doc, ?, json(?))`, []interface{}{jp + "[#]", string(value)}, nil
}

func (SQLite) IsUniqueViolation(err error) bool {
	return sqliteExtendedCode(err) == sqlite3.ErrConstraintUnique
}

func (SQLite) IsCheckViolation(err error) bool {
	return sqliteExtendedCode(err) == sqlite3.ErrConstraintCheck
}

func sqliteExtendedCode(err error) sqlite3.ErrNoExtended {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode
	}
	return 0
}

// sqlitePath renders a Path as an SQLite JSON path, quoting each key
// (eg `$."hits"."organic"`). SQLite paths have no escape for '"',
// so keys containing one are rejected.
func sqlitePath(path document.Path) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("$")

	for _, key := range path {
		if strings.ContainsRune(key, '"') {
			return "", errors.WithMessagef(document.ErrValidation,
				"path key %q cannot contain '\"' (SQLite)", key)
		}
		b.WriteString(`."`)
		b.WriteString(key)
		b.WriteString(`"`)
	}
	return b.String(), nil
}
