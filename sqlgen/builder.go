package sqlgen

import (
	"math"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
)

// Stmt is rendered SQL and its bound arguments.
type Stmt struct {
	SQL  string
	Args []interface{}
}

// Builder renders document operations into Stmts of its Dialect.
type Builder struct {
	Dialect Dialect
	// MaxInsertBatch bounds the number of documents of a single INSERT
	// statement. If zero, DefaultMaxInsertBatch is used.
	MaxInsertBatch int
}

// DefaultMaxInsertBatch keeps the bound arguments of a multi-row INSERT
// well below the limits of supported drivers.
const DefaultMaxInsertBatch = 500

// NewBuilder returns a Builder of the Dialect.
func NewBuilder(d Dialect) Builder { return Builder{Dialect: d} }

// Rebind |query| from "?" placeholders to those of the Dialect.
func (b Builder) Rebind(query string) string { return sqlx.Rebind(b.Dialect.BindType(), query) }

func (b Builder) stmt(query string, args []interface{}) Stmt {
	return Stmt{SQL: b.Rebind(query), Args: args}
}

var (
	leadingWhereRe = regexp.MustCompile(`(?i)^\s*where\b`)
	limitClauseRe  = regexp.MustCompile(`(?i)\blimit\b`)

	// Quoted literals and identifiers, which may spell "limit" harmlessly.
	quotedRe = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
)

// Find renders a query of documents containing |pattern|.
//
// |whereEtc| is appended verbatim after the containment predicate, and may
// add further conditions ("AND ..."), an ORDER BY, or a LIMIT. It must not
// begin with WHERE. Its "?" placeholders are bound to |argsEtc|. If |limit|
// is positive, at most |limit| documents are returned, and |whereEtc| may
// not also have a LIMIT clause. |argsEtc| requires a |whereEtc|.
//
// Every "?" of |whereEtc| is rebound on Postgres, including those within
// string literals and the jsonb ?, ?| and ?& operators. Use functions
// jsonb_exists, jsonb_exists_any and jsonb_exists_all instead.
func (b Builder) Find(pattern document.Document, whereEtc string, argsEtc []interface{}, limit int) (Stmt, error) {
	whereEtc = strings.TrimSpace(whereEtc)

	if limit < 0 {
		return Stmt{}, errors.WithMessagef(document.ErrValidation, "invalid limit %d", limit)
	} else if leadingWhereRe.MatchString(whereEtc) {
		return Stmt{}, errors.WithMessage(document.ErrValidation,
			"whereEtc must not begin with WHERE (use AND ... to add conditions)")
	} else if limit != 0 && limitClauseRe.MatchString(quotedRe.ReplaceAllString(whereEtc, "''")) {
		return Stmt{}, errors.WithMessage(document.ErrValidation,
			"limit cannot be combined with a LIMIT clause of whereEtc")
	} else if whereEtc == "" && len(argsEtc) != 0 {
		return Stmt{}, errors.WithMessagef(document.ErrValidation,
			"argsEtc has %d arguments but whereEtc is empty", len(argsEtc))
	}

	var pred, args, err = b.Dialect.Contains(pattern)
	if err != nil {
		return Stmt{}, err
	}
	var parts = []string{"SELECT doc FROM documents WHERE " + pred}

	if whereEtc != "" {
		parts = append(parts, whereEtc)
	}
	args = append(args, argsEtc...)
	if limit != 0 {
		parts = append(parts, "LIMIT ?")
		args = append(args, limit)
	}
	return b.stmt(strings.Join(parts, "\n"), args), nil
}

// FindByID renders a query of the document having identifier |id|.
func (b Builder) FindByID(id string) (Stmt, error) {
	if id == "" {
		return Stmt{}, errors.WithMessage(document.ErrValidation, "empty _id")
	}
	return b.stmt("SELECT doc FROM documents WHERE "+b.Dialect.ID()+" = ?",
		[]interface{}{id}), nil
}

// Insert renders statements which insert |docs|, in order. Every document
// is validated before any statement is rendered. Documents are grouped
// into multi-row INSERTs of at most MaxInsertBatch documents.
func (b Builder) Insert(docs []document.Document) ([]Stmt, error) {
	var encoded = make([]string, len(docs))
	for i, doc := range docs {
		var enc, err = document.Encode(doc)
		if err != nil {
			return nil, errors.WithMessagef(err, "document %d", i)
		}
		encoded[i] = string(enc)
	}

	var batch = b.MaxInsertBatch
	if batch <= 0 {
		batch = DefaultMaxInsertBatch
	}
	var out []Stmt

	for len(encoded) != 0 {
		var n = batch
		if n > len(encoded) {
			n = len(encoded)
		}
		var values = make([]string, n)
		var args = make([]interface{}, n)

		for i := range values {
			values[i] = "(" + b.Dialect.DocParam() + ")"
			args[i] = encoded[i]
		}
		out = append(out, b.stmt("INSERT INTO documents (doc) VALUES "+strings.Join(values, ", "), args))
		encoded = encoded[n:]
	}
	return out, nil
}

// Replace renders a statement which overwrites the document having the
// "_id" of |doc| with |doc|.
func (b Builder) Replace(doc document.Document) (Stmt, error) {
	var enc, err = document.Encode(doc)
	if err != nil {
		return Stmt{}, err
	}
	return b.stmt("UPDATE documents SET doc = "+b.Dialect.DocParam()+" WHERE "+b.Dialect.ID()+" = ?",
		[]interface{}{string(enc), doc.ID()}), nil
}

// Delete renders a statement which deletes the document having |id|.
func (b Builder) Delete(id string) (Stmt, error) {
	if id == "" {
		return Stmt{}, errors.WithMessage(document.ErrValidation, "empty _id")
	}
	return b.stmt("DELETE FROM documents WHERE "+b.Dialect.ID()+" = ?", []interface{}{id}), nil
}

// Increment renders a single UPDATE which adds |delta| to the number at
// |path| of the first document (ordered on "_id") containing |filter|.
// The statement affects no rows if there's no such document, or if its
// value at |path| is not a number.
func (b Builder) Increment(filter document.Document, path document.Path, delta float64) (Stmt, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return Stmt{}, errors.WithMessagef(document.ErrValidation, "invalid delta %v", delta)
	}
	var set, setArgs, err = b.Dialect.Increment(path, numericArg(delta))
	if err != nil {
		return Stmt{}, err
	}
	return b.guardedUpdate(set, setArgs, filter, path, b.Dialect.NumberTypes())
}

// Append renders a single UPDATE which appends |value| to the array at
// |path| of the first document (ordered on "_id") containing |filter|.
// The statement affects no rows if there's no such document, or if its
// value at |path| is not an array.
func (b Builder) Append(filter document.Document, path document.Path, value interface{}) (Stmt, error) {
	var enc, err = document.Marshal(value)
	if err != nil {
		return Stmt{}, err
	}
	set, setArgs, err := b.Dialect.Append(path, enc)
	if err != nil {
		return Stmt{}, err
	}
	return b.guardedUpdate(set, setArgs, filter, path, []string{b.Dialect.ArrayType()})
}

// Probe renders a query of the JSON type name of the value at |path| of the
// first document (ordered on "_id") containing |filter|. It's used to
// explain why a guarded update affected no rows: the query returns no row
// if no document matched, or a single column "kind" which is NULL if the
// document has no value at |path|.
func (b Builder) Probe(filter document.Document, path document.Path) (Stmt, error) {
	var pred, args, err = b.Dialect.Contains(filter)
	if err != nil {
		return Stmt{}, err
	}
	typeOf, typeArgs, err := b.Dialect.TypeOf(path)
	if err != nil {
		return Stmt{}, err
	}
	var id = b.Dialect.ID()
	var query = "SELECT " + typeOf + " AS kind FROM documents WHERE " + pred +
		"\nORDER BY " + id + " LIMIT 1"

	return b.stmt(query, append(typeArgs, args...)), nil
}

func (b Builder) guardedUpdate(set string, setArgs []interface{}, filter document.Document, path document.Path, types []string) (Stmt, error) {
	var pred, predArgs, err = b.Dialect.Contains(filter)
	if err != nil {
		return Stmt{}, err
	}
	typeOf, typeArgs, err := b.Dialect.TypeOf(path)
	if err != nil {
		return Stmt{}, err
	}
	var id = b.Dialect.ID()
	var query = "UPDATE documents SET doc = " + set +
		"\nWHERE " + id + " = (SELECT " + id + " FROM documents WHERE " + pred + " ORDER BY " + id + " LIMIT 1)" +
		"\nAND " + typeOf + " IN (" + quoteNames(types) + ")"

	var args = append(append(setArgs, predArgs...), typeArgs...)
	return b.stmt(query, args), nil
}

// Setup renders the Dialect's idempotent schema statements.
func (b Builder) Setup() []Stmt {
	var out []Stmt
	for _, s := range b.Dialect.Setup() {
		out = append(out, Stmt{SQL: s})
	}
	return out
}

// Drop renders a statement which drops the document table.
func (b Builder) Drop() Stmt { return Stmt{SQL: b.Dialect.Drop()} }

// Clear renders a statement which deletes every document.
func (b Builder) Clear() Stmt { return Stmt{SQL: "DELETE FROM documents"} }

// Tables renders a query of user table names.
func (b Builder) Tables() Stmt { return Stmt{SQL: b.Dialect.Tables()} }

// quoteNames renders fixed type names as SQL string literals.
// Names are Dialect constants, never caller input.
func quoteNames(names []string) string {
	var quoted = make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, ", ")
}

// numericArg binds integral deltas as integers, so that engines which
// distinguish integer and real JSON numbers preserve integers.
func numericArg(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
