package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/metrics"
	"golang.org/x/sync/errgroup"
)

func TestSQLiteScenarios(t *testing.T) {
	for name, fn := range scenarios {
		t.Run(name, func(t *testing.T) { fn(t, sqliteDSN(t)) })
	}
}

// scenarios are run against each supported engine.
var scenarios = map[string]func(t *testing.T, dsn string){
	"RoundTrip":         testRoundTrip,
	"Containment":       testContainment,
	"WhereEtc":          testWhereEtc,
	"Replace":           testReplace,
	"Delete":            testDelete,
	"IncrDecr":          testIncrDecr,
	"Push":              testPush,
	"DuplicateKey":      testDuplicateKey,
	"ScopedRollback":    testScopedRollback,
	"UncommittedWrites": testUncommittedWrites,
}

func testRoundTrip(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	var docs = []document.Document{
		{"_id": "a", "title": "hello", "n": 1, "x": map[string]interface{}{"y": 10.5, "z": []interface{}{"p", 2, true, nil}}},
		{"_id": "b", "unicode": "héllo wörld ✓", "big": 9007199254740993},
		{"_id": "c"},
	}
	for _, doc := range docs {
		require.NoError(t, s.InsertOne(ctx, doc))
	}
	for _, doc := range docs {
		var got, ok, err = s.FindByID(ctx, doc.ID())
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, document.Equal(doc, got), "%v != %v", doc, got)

		got, ok, err = s.FindOne(ctx, document.ByID(doc.ID()), "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, document.Equal(doc, got))
	}

	var got, ok, err = s.FindByID(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	_, _, err = s.FindByID(ctx, "")
	assert.True(t, errors.Is(err, ErrValidation))
}

func testContainment(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	require.NoError(t, s.InsertMany(ctx, []document.Document{
		{"_id": "01", "type": "post", "tags": []string{"a", "b"}, "meta": map[string]interface{}{"score": 10}},
		{"_id": "02", "type": "post", "tags": []string{"a"}, "meta": map[string]interface{}{"score": 10.5}},
		{"_id": "03", "type": "post", "meta": map[string]interface{}{"score": 10, "draft": true}},
		{"_id": "04", "type": "user", "name": "ann"},
	}))

	for _, tc := range []struct {
		pattern document.Document
		expect  []string
	}{
		{document.Document{"type": "post"}, []string{"01", "02", "03"}},
		{document.Document{"type": "user"}, []string{"04"}},
		{document.Document{}, []string{"01", "02", "03", "04"}},
		{nil, []string{"01", "02", "03", "04"}},
		// Nested objects are contained per key, and numbers compare by value.
		{document.Document{"meta": map[string]interface{}{"score": 10.0}}, []string{"01", "03"}},
		{document.Document{"meta": map[string]interface{}{"draft": true}}, []string{"03"}},
		// Arrays match exactly.
		{document.Document{"tags": []string{"a"}}, []string{"02"}},
		{document.Document{"tags": []string{"a", "b"}}, []string{"01"}},
		{document.Document{"tags": []string{"b", "a"}}, []string{}},
		{document.Document{"type": "post", "name": "ann"}, []string{}},
		{document.Document{"type": "comment"}, []string{}},
	} {
		var docs, err = s.Find(ctx, tc.pattern, "", nil, 0)
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Equal(t, tc.expect, idsOf(docs), "pattern %v", tc.pattern)

		// Every returned document contains the pattern.
		for _, doc := range docs {
			var ok, err = document.Contains(doc, tc.pattern)
			assert.NoError(t, err)
			assert.True(t, ok)
		}
	}

	// A lookup which is filtered on type doesn't match a differently-typed document.
	var _, ok, err = s.FindOne(ctx, document.Document{"_id": "04", "type": "post"}, "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func testWhereEtc(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	var id = s.Dialect().ID()

	for _, n := range []int{3, 1, 4, 5, 2} {
		require.NoError(t, s.InsertOne(ctx, document.Document{
			"_id": fmt.Sprintf("d%d", n), "type": "num", "n": n}))
	}

	var docs, err = s.Find(ctx, document.Document{"type": "num"}, "ORDER BY "+id+" DESC", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d5", "d4"}, idsInOrder(docs))

	docs, err = s.Find(ctx, document.Document{"type": "num"},
		"AND "+id+" > ? ORDER BY "+id+" LIMIT ?", []interface{}{"d2", 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d3", "d4"}, idsInOrder(docs))

	// Arguments are bound, never interpolated.
	docs, err = s.Find(ctx, nil, "AND "+id+" = ?", []interface{}{"d1' OR '1'='1"}, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)

	var doc, ok, _ = s.FindOne(ctx, nil, "AND "+id+" >= ? ORDER BY "+id, "d4")
	assert.True(t, ok)
	assert.Equal(t, "d4", doc.ID())

	_, err = s.Find(ctx, nil, "ORDER BY "+id+" LIMIT 1", nil, 2)
	assert.True(t, errors.Is(err, ErrValidation))
	_, _, err = s.FindOne(ctx, nil, "LIMIT 3")
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = s.Find(ctx, nil, "WHERE "+id+" = ?", []interface{}{"d1"}, 0)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = s.Find(ctx, nil, "", nil, -2)
	assert.True(t, errors.Is(err, ErrValidation))

	// "limit" within a literal doesn't conflict with |limit|.
	docs, err = s.Find(ctx, nil, "AND "+id+" <> 'limit' ORDER BY "+id, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, idsInOrder(docs))

	// Arguments require a whereEtc to bind them.
	_, err = s.Find(ctx, nil, "", []interface{}{"ignored"}, 0)
	assert.True(t, errors.Is(err, ErrValidation))
}

func testReplace(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	require.NoError(t, s.InsertMany(ctx, []document.Document{
		{"_id": "a", "v": 1, "old": true},
		{"_id": "b", "v": 1},
	}))

	require.NoError(t, s.ReplaceOne(ctx, document.Document{"_id": "a", "v": 2}))
	var doc, _, _ = s.FindByID(ctx, "a")
	assert.True(t, document.Equal(document.Document{"_id": "a", "v": 2}, doc))

	// The old version is no longer retrievable.
	var docs, err = s.Find(ctx, document.Document{"old": true}, "", nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, docs)

	err = s.ReplaceOne(ctx, document.Document{"_id": "missing", "v": 2})
	assert.True(t, errors.Is(err, ErrNotFound))
	_, ok, _ := s.FindByID(ctx, "missing")
	assert.False(t, ok, "replace must not upsert")

	err = s.ReplaceOne(ctx, document.Document{"v": 2})
	assert.True(t, errors.Is(err, ErrValidation))

	// ReplaceMany applies all replacements, or none.
	err = s.ReplaceMany(ctx, []document.Document{
		{"_id": "a", "v": 3},
		{"_id": "missing", "v": 3},
	})
	assert.True(t, errors.Is(err, ErrNotFound))
	doc, _, _ = s.FindByID(ctx, "a")
	assert.True(t, document.Equal(2, doc["v"]))

	require.NoError(t, s.ReplaceMany(ctx, []document.Document{
		{"_id": "a", "v": 4},
		{"_id": "b", "v": 4},
	}))
	docs, err = s.Find(ctx, document.Document{"v": 4}, "", nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, idsOf(docs))
}

func testDelete(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "a"}))

	require.NoError(t, s.DeleteOne(ctx, "a"))
	require.NoError(t, s.DeleteOne(ctx, "a"))
	require.NoError(t, s.DeleteOne(ctx, "never-existed"))

	var _, ok, err = s.FindByID(ctx, "a")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(s.DeleteOne(ctx, ""), ErrValidation))
}

func testIncrDecr(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	require.NoError(t, s.InsertMany(ctx, []document.Document{
		{"_id": "a", "x": map[string]interface{}{"y": 10, "z": 20}, "s": "str", "arr": []int{1}},
		{"_id": "m2", "k": 1, "n": 0},
		{"_id": "m1", "k": 1, "n": 0},
	}))
	var byA = document.ByID("a")

	require.NoError(t, s.Incr(ctx, byA, document.MustParsePath("x.y"), 1))
	require.NoError(t, s.Decr(ctx, byA, document.Path{"x", "z"}, 1))
	assertValue(t, s, "a", "x.y", 11)
	assertValue(t, s, "a", "x.z", 19)

	// Incr then Decr of the same amount round-trips.
	require.NoError(t, s.Incr(ctx, byA, document.MustParsePath("x.y"), 2.5))
	assertValue(t, s, "a", "x.y", 13.5)
	require.NoError(t, s.Decr(ctx, byA, document.MustParsePath("x.y"), 2.5))
	assertValue(t, s, "a", "x.y", 11)

	// Filters may match on any field. The first document by _id is targeted.
	require.NoError(t, s.Incr(ctx, document.Document{"k": 1}, document.Path{"n"}, 5))
	assertValue(t, s, "m1", "n", 5)
	assertValue(t, s, "m2", "n", 0)

	var err = s.Incr(ctx, document.ByID("missing"), document.Path{"n"}, 1)
	assert.True(t, errors.Is(err, ErrNotFound), "%v", err)
	err = s.Incr(ctx, byA, document.Path{"s"}, 1)
	assert.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	err = s.Incr(ctx, byA, document.Path{"arr"}, 1)
	assert.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	err = s.Decr(ctx, byA, document.MustParsePath("x.missing"), 1)
	assert.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	err = s.Incr(ctx, byA, document.Path{}, 1)
	assert.True(t, errors.Is(err, ErrValidation), "%v", err)

	// Failures didn't modify the document.
	var doc, _, _ = s.FindByID(ctx, "a")
	assert.True(t, document.Equal(document.Document{
		"_id": "a", "x": map[string]interface{}{"y": 11, "z": 19}, "s": "str", "arr": []int{1},
	}, doc), "%v", doc)
}

func testPush(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{})
	require.NoError(t, s.InsertOne(ctx, document.Document{
		"_id": "a", "tags": []string{"x"}, "hits": map[string]interface{}{"log": []interface{}{}}, "s": "str",
	}))
	var byA = document.ByID("a")

	require.NoError(t, s.Push(ctx, byA, document.Path{"tags"}, "y"))
	require.NoError(t, s.Push(ctx, byA, document.MustParsePath("hits.log"), map[string]interface{}{"n": 1}))
	require.NoError(t, s.Push(ctx, byA, document.MustParsePath("hits.log"), []int{2, 3}))

	assertValue(t, s, "a", "tags", []string{"x", "y"})
	assertValue(t, s, "a", "hits.log", []interface{}{map[string]interface{}{"n": 1}, []int{2, 3}})

	var err = s.Push(ctx, byA, document.Path{"s"}, 1)
	assert.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	err = s.Push(ctx, byA, document.Path{"nope"}, 1)
	assert.True(t, errors.Is(err, ErrTypeMismatch), "%v", err)
	err = s.Push(ctx, document.ByID("b"), document.Path{"tags"}, 1)
	assert.True(t, errors.Is(err, ErrNotFound), "%v", err)
}

func testDuplicateKey(t *testing.T, dsn string) {
	var s = connect(t, dsn, Options{MaxInsertBatch: 2})
	require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "a", "v": 1}))

	var err = s.InsertOne(ctx, document.Document{"_id": "a", "v": 2})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "%v", err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Statement, "INSERT INTO documents")
	assert.NotNil(t, execErr.Err)

	// The Session remains usable, and the original document is intact.
	var doc, _, _ = s.FindByID(ctx, "a")
	assert.True(t, document.Equal(1, doc["v"]))

	// A batch having a duplicate (even in a later statement) applies nothing.
	err = s.InsertMany(ctx, []document.Document{
		{"_id": "b"}, {"_id": "c"}, {"_id": "d"}, {"_id": "a"}, {"_id": "e"},
	})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "%v", err)
	// As does a batch having a duplicate within itself.
	err = s.InsertMany(ctx, []document.Document{{"_id": "f"}, {"_id": "f"}})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "%v", err)
	// Or an invalid document.
	err = s.InsertMany(ctx, []document.Document{{"_id": "g"}, {"_id": 42}})
	assert.True(t, errors.Is(err, ErrValidation), "%v", err)

	var docs, _ = s.Find(ctx, nil, "", nil, 0)
	assert.Equal(t, []string{"a"}, idsOf(docs))

	require.NoError(t, s.InsertMany(ctx, []document.Document{
		{"_id": "b"}, {"_id": "c"}, {"_id": "d"}, {"_id": "e"}, {"_id": "f"},
	}))
	docs, _ = s.Find(ctx, nil, "", nil, 0)
	assert.Len(t, docs, 6)
}

func testScopedRollback(t *testing.T, dsn string) {
	var boom = errors.New("boom")

	var err = WithSession(ctx, dsn, Options{}, func(s *Session) error {
		require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "rolled-back"}))
		return boom
	})
	assert.Equal(t, boom, err)

	assert.PanicsWithValue(t, "panicked", func() {
		_ = WithSession(ctx, dsn, Options{}, func(s *Session) error {
			require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "panicked"}))
			panic("panicked")
		})
	})

	require.NoError(t, WithSession(ctx, dsn, Options{}, func(s *Session) error {
		return s.InsertOne(ctx, document.Document{"_id": "committed"})
	}))

	require.NoError(t, WithSession(ctx, dsn, Options{SkipSetup: true}, func(s *Session) error {
		var docs, err = s.Find(ctx, nil, "", nil, 0)
		assert.Equal(t, []string{"committed"}, idsOf(docs))
		return err
	}))
}

func testUncommittedWrites(t *testing.T, dsn string) {
	var a = connect(t, dsn, Options{})
	require.NoError(t, a.Commit()) // Commit setup.
	require.NoError(t, a.Reopen(ctx))
	require.NoError(t, a.InsertOne(ctx, document.Document{"_id": "pending"}))

	var b = connect(t, dsn, Options{SkipSetup: true})
	var _, ok, err = b.FindByID(ctx, "pending")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Rollback())

	require.NoError(t, a.Commit())

	require.NoError(t, b.Reopen(ctx))
	_, ok, err = b.FindByID(ctx, "pending")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionStates(t *testing.T) {
	var dsn = sqliteDSN(t)
	var s = connect(t, dsn, Options{})
	assert.Equal(t, Open, s.State())
	assert.True(t, s.RanSetup())

	require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "a"}))
	require.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, "closed", s.State().String())

	var _, _, err = s.FindByID(ctx, "a")
	assert.True(t, errors.Is(err, ErrSessionClosed))
	assert.True(t, errors.Is(s.InsertOne(ctx, document.Document{"_id": "b"}), ErrSessionClosed))
	assert.Equal(t, ErrSessionClosed, s.Commit())
	assert.Equal(t, ErrSessionClosed, s.Close())
	assert.Equal(t, ErrSessionClosed, s.Rollback())

	// Reopen begins a new transaction over the same connection.
	require.NoError(t, s.Reopen(ctx))
	assert.Equal(t, Open, s.State())
	assert.EqualError(t, s.Reopen(ctx), "session is already open")

	var _, ok, _ = s.FindByID(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "b"}))
	require.NoError(t, s.Rollback())
	assert.Equal(t, RolledBack, s.State())

	require.NoError(t, s.Reopen(ctx))
	_, ok, _ = s.FindByID(ctx, "b")
	assert.False(t, ok)
	require.NoError(t, s.Commit())
	assert.Equal(t, Committed, s.State())

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, ErrSessionClosed, s.Reopen(ctx))

	// Setup was not repeated by Reopen, and is skipped when requested.
	s = connect(t, dsn, Options{SkipSetup: true})
	assert.False(t, s.RanSetup())
	_, ok, _ = s.FindByID(ctx, "a")
	assert.True(t, ok)
}

func TestSkippedSetupOfMissingTable(t *testing.T) {
	var s = connect(t, sqliteDSN(t), Options{SkipSetup: true})

	var _, err = s.Find(ctx, nil, "", nil, 0)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Error(), "no such table")

	require.NoError(t, s.EnsureTable(ctx))
	assert.True(t, s.RanSetup())
	docs, err := s.Find(ctx, nil, "", nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, docs)
}

func TestConnectErrors(t *testing.T) {
	var _, err = Connect(ctx, "mysql://localhost/db", Options{})
	assert.EqualError(t, err, `resolving dialect: cannot infer dialect of DSN "mysql://localhost/db"`)

	_, err = Connect(ctx, sqliteDSN(t), Options{Dialect: "oracle"})
	assert.EqualError(t, err, `resolving dialect: unknown dialect "oracle"`)

	// A file within a missing directory cannot be opened.
	_, err = Connect(ctx, "file:"+filepath.Join(t.TempDir(), "missing", "x.db"), Options{})
	var execErr *ExecutionError
	assert.True(t, errors.As(err, &execErr), "%v", err)
}

func TestExecute(t *testing.T) {
	var s = connect(t, sqliteDSN(t), Options{})
	require.NoError(t, s.InsertMany(ctx, []document.Document{
		{"_id": "a", "n": 1}, {"_id": "b", "n": 2},
	}))

	var rows, err = s.Execute(ctx,
		"SELECT json_extract(doc, '$._id') AS id, json_extract(doc, '$.n') AS n, doc FROM documents ORDER BY 1", nil, FetchAll)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["id"])
	assert.Equal(t, int64(2), rows[1]["n"])
	assert.Equal(t, `{"_id":"b","n":2}`, rows[1]["doc"])

	rows, err = s.Execute(ctx, "SELECT json_extract(doc, '$._id') AS id FROM documents WHERE json_extract(doc, '$.n') > ?",
		[]interface{}{0}, FetchOne)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.Execute(ctx, "UPDATE documents SET doc = json_set(doc, '$.n', ?)", []interface{}{7}, FetchNone)
	require.NoError(t, err)
	assert.Nil(t, rows)

	docs, err := s.FindSQL(ctx, "SELECT doc FROM documents WHERE json_extract(doc, '$.n') = ?", []interface{}{7})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, idsOf(docs))

	// Statements lacking a "doc" column cannot be decoded.
	_, err = s.FindSQL(ctx, "SELECT 1 AS one", nil)
	assert.True(t, errors.Is(err, ErrValidation))

	// Engine errors are surfaced with their statement.
	_, err = s.Execute(ctx, "SELEKT nonsense", nil, FetchAll)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "SELEKT nonsense", execErr.Statement)
	assert.Contains(t, err.Error(), "syntax error")
	assert.False(t, errors.Is(err, ErrDuplicateKey))

	// Bypassing the codec, the engine's CHECK constraint still rejects a
	// document lacking a string _id.
	_, err = s.Execute(ctx, "INSERT INTO documents (doc) VALUES (?)", []interface{}{`{"_id": 5}`}, FetchNone)
	assert.True(t, errors.Is(err, ErrValidation), "%v", err)
	require.True(t, errors.As(err, &execErr))
	_, err = s.Execute(ctx, "INSERT INTO documents (doc) VALUES (?)", []interface{}{`{"x": 1}`}, FetchNone)
	assert.True(t, errors.Is(err, ErrValidation), "%v", err)
	_, err = s.Execute(ctx, "INSERT INTO documents (doc) VALUES (?)", []interface{}{`{"_id": "a"}`}, FetchNone)
	assert.True(t, errors.Is(err, ErrDuplicateKey), "%v", err)
}

func TestStatementCaching(t *testing.T) {
	for _, size := range []int{-1, 1, 0} {
		var s = connect(t, sqliteDSN(t), Options{StatementCacheSize: size})

		for i := 0; i != 3; i++ {
			require.NoError(t, s.InsertOne(ctx, document.Document{"_id": fmt.Sprint(i), "n": i}))
			var _, ok, err = s.FindByID(ctx, fmt.Sprint(i))
			require.NoError(t, err)
			require.True(t, ok)
		}
		// Statements don't survive their transaction.
		require.NoError(t, s.Commit())
		require.NoError(t, s.Reopen(ctx))
		require.NoError(t, s.Incr(ctx, document.ByID("2"), document.Path{"n"}, 1))

		// Nor a schema change.
		require.NoError(t, s.DropTable(ctx, true))
		require.NoError(t, s.EnsureTable(ctx))
		var _, ok, err = s.FindByID(ctx, "2")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestSchemaHelpers(t *testing.T) {
	var s = connect(t, sqliteDSN(t), Options{})
	require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "a"}))

	var tables, err = s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"documents"}, tables)

	assert.True(t, errors.Is(s.ClearTable(ctx, false), ErrNotConfirmed))
	assert.True(t, errors.Is(s.DropTable(ctx, false), ErrNotConfirmed))
	var docs, _ = s.Find(ctx, nil, "", nil, 0)
	assert.Len(t, docs, 1)

	require.NoError(t, s.ClearTable(ctx, true))
	docs, _ = s.Find(ctx, nil, "", nil, 0)
	assert.Empty(t, docs)

	require.NoError(t, s.DropTable(ctx, true))
	tables, err = s.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)

	// EnsureTable is idempotent.
	require.NoError(t, s.EnsureTable(ctx))
	require.NoError(t, s.EnsureTable(ctx))
	tables, _ = s.Tables(ctx)
	assert.Equal(t, []string{"documents"}, tables)
}

func TestConnectorRunsSetupOnce(t *testing.T) {
	var c, err = NewConnector(sqliteDSN(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	// Setup is committed ahead of the first Run's function, and survives
	// its failure.
	var boom = errors.New("boom")
	assert.Equal(t, boom, c.Run(ctx, func(s *Session) error {
		assert.True(t, s.RanSetup())
		return boom
	}))

	var ranSetup []bool
	var insert = c.Wrap(func(ctx context.Context, s *Session) error {
		ranSetup = append(ranSetup, s.RanSetup())
		return s.InsertOne(ctx, document.Document{"_id": document.NewID(), "kind": "wrapped"})
	})
	require.NoError(t, insert(ctx))
	require.NoError(t, insert(ctx))
	require.NoError(t, insert(ctx))
	assert.Equal(t, []bool{false, false, false}, ranSetup)

	// Failed Runs are rolled back. The Connector remains usable.
	assert.Error(t, c.Run(ctx, func(s *Session) error {
		require.NoError(t, s.InsertOne(ctx, document.Document{"_id": "x", "kind": "wrapped"}))
		return s.InsertOne(ctx, document.Document{"_id": "x"})
	}))

	require.NoError(t, c.Run(ctx, func(s *Session) error {
		var docs, err = s.Find(ctx, document.Document{"kind": "wrapped"}, "", nil, 0)
		assert.Len(t, docs, 3)
		return err
	}))
}

func TestConnectorNestedRuns(t *testing.T) {
	var c, err = NewConnector(sqliteDSN(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	var ranSetup []bool
	var inner = c.Wrap(func(ctx context.Context, s *Session) error {
		ranSetup = append(ranSetup, s.RanSetup())
		return s.InsertOne(ctx, document.Document{"_id": "inner"})
	})
	var outer = c.Wrap(func(ctx context.Context, s *Session) error {
		ranSetup = append(ranSetup, s.RanSetup())

		if err := inner(ctx); err != nil {
			return err
		}
		return s.InsertOne(ctx, document.Document{"_id": "outer"})
	})

	var done = make(chan error, 1)
	go func() { done <- outer(ctx) }()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("nested Run on first use of the Connector didn't return")
	}
	assert.Equal(t, []bool{true, false}, ranSetup)

	require.NoError(t, c.Run(ctx, func(s *Session) error {
		var docs, err = s.Find(ctx, nil, "", nil, 0)
		assert.Equal(t, []string{"inner", "outer"}, idsOf(docs))
		return err
	}))
}

func TestConnectorConcurrentRuns(t *testing.T) {
	var c, err = NewConnector(sqliteDSN(t)+"&_txlock=immediate", Options{})
	require.NoError(t, err)
	defer c.Close()

	var setups = make(chan bool, 8)
	var grp, gctx = errgroup.WithContext(ctx)

	for i := 0; i != 8; i++ {
		var i = i
		grp.Go(func() error {
			return c.Run(gctx, func(s *Session) error {
				setups <- s.RanSetup()
				return s.InsertOne(gctx, document.Document{"_id": fmt.Sprintf("w%d", i)})
			})
		})
	}
	require.NoError(t, grp.Wait())
	close(setups)

	var count int
	for ran := range setups {
		if ran {
			count++
		}
	}
	assert.Equal(t, 1, count)

	require.NoError(t, c.Run(ctx, func(s *Session) error {
		var docs, err = s.Find(ctx, nil, "", nil, 0)
		assert.Len(t, docs, 8)
		return err
	}))
}

func TestMetrics(t *testing.T) {
	var s = connect(t, sqliteDSN(t), Options{})

	var okInserts = testutil.ToFloat64(metrics.StatementsTotal.WithLabelValues("sqlite", "insert", metrics.Ok))
	var failInserts = testutil.ToFloat64(metrics.StatementsTotal.WithLabelValues("sqlite", "insert", metrics.Fail))
	var written = testutil.ToFloat64(metrics.DocumentsWrittenTotal.WithLabelValues("sqlite", "insert"))
	var commits = testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("sqlite", metrics.Committed))

	require.NoError(t, s.InsertMany(ctx, []document.Document{{"_id": "a"}, {"_id": "b"}}))
	assert.Error(t, s.InsertOne(ctx, document.Document{"_id": "a"}))
	require.NoError(t, s.Commit())

	assert.Equal(t, okInserts+1, testutil.ToFloat64(metrics.StatementsTotal.WithLabelValues("sqlite", "insert", metrics.Ok)))
	assert.Equal(t, failInserts+1, testutil.ToFloat64(metrics.StatementsTotal.WithLabelValues("sqlite", "insert", metrics.Fail)))
	assert.Equal(t, written+2, testutil.ToFloat64(metrics.DocumentsWrittenTotal.WithLabelValues("sqlite", "insert")))
	assert.Equal(t, commits+1, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("sqlite", metrics.Committed)))
}

func sqliteDSN(t *testing.T) string {
	return "file:" + filepath.Join(t.TempDir(), "docs.db") + "?_busy_timeout=5000&_journal_mode=WAL"
}

func connect(t *testing.T, dsn string, opts Options) *Session {
	var s, err = Connect(ctx, dsn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func assertValue(t *testing.T, s *Session, id, path string, expect interface{}) {
	var doc, ok, err = s.FindByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	var v, found = doc.Get(document.MustParsePath(path))
	require.True(t, found, "%s of %s", path, id)
	assert.True(t, document.Equal(expect, v), "%s of %s: %v != %v", path, id, v, expect)
}

func idsOf(docs []document.Document) []string {
	var out = idsInOrder(docs)
	sort.Strings(out)
	return out
}

func idsInOrder(docs []document.Document) []string {
	var out = make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.ID())
	}
	return out
}

var ctx = context.Background()
