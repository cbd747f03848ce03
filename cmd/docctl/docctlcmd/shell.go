package docctlcmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/shell"
	"go.jsonbdoc.dev/core/store"
)

type cmdShell struct{}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdShell)
}

func AddCmdShell(cmd *flags.Command) error {
	_, err := cmd.AddCommand("shell", "Interactive document shell", `
Run an interactive shell over a single Session of the configured store.

Each line is a command followed by arguments, which are JSON values separated
by whitespace. Work is uncommitted until "commit" or "close". Quitting
discards uncommitted work. Type "help" for a list of commands.

>    > insert {"_id": "a", "type": "post", "n": 1}
>    > incr {"_id": "a"} "n" 2
>    > find {"type": "post"}
>    > sql "SELECT count(*) AS n FROM documents"
>    > commit
`, &cmdShell{})
	return err
}

func (cmd *cmdShell) Execute([]string) error {
	startup()

	var ctx = context.Background()
	if _, err := shell.Connect(ctx, baseCfg.Store.DSN, baseCfg.Store.Options()); err != nil {
		return err
	}
	defer func() {
		if err := shell.Disconnect(); err != nil {
			log.WithField("err", err).Warn("failed to disconnect session")
		}
	}()
	return interpret(ctx, stdin, stdout, "> ")
}

// errQuit stops the interpreter.
var errQuit = errors.New("quit")

type shellCommand struct {
	usage string
	run   func(ctx context.Context, w io.Writer, args []interface{}) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"find":    {`[pattern] [where] [args] [limit]: print documents containing pattern`, shellFind},
		"findone": {`[pattern] [where] [args]: print the first document containing pattern`, shellFindOne},
		"get":     {`"id": print the document having _id`, shellGet},
		"insert":  {`doc|[docs]: insert documents`, shellInsert},
		"replace": {`doc|[docs]: replace documents having the same _id`, shellReplace},
		"delete":  {`"id": delete the document having _id`, shellDelete},
		"incr":    {`filter "path" [delta]: increment a number of the first matched document`, shellIncr(false)},
		"decr":    {`filter "path" [delta]: decrement a number of the first matched document`, shellIncr(true)},
		"push":    {`filter "path" value: append to an array of the first matched document`, shellPush},
		"sql":     {`"statement" [args]: execute a statement, printing returned rows`, shellSQL},
		"tables":  {`: list database tables`, shellTables},
		"commit": {`: commit and begin a new transaction`, shellTxn(func(ctx context.Context) error {
			if err := shell.Close(); err != nil {
				return err
			}
			return shell.Reopen(ctx)
		})},
		"rollback": {`: roll back, and begin a new transaction`, shellTxn(func(ctx context.Context) error {
			if err := shell.Rollback(); err != nil {
				return err
			}
			return shell.Reopen(ctx)
		})},
		"close":  {`: commit and close the session`, shellTxn(func(context.Context) error { return shell.Close() })},
		"reopen": {`: begin a transaction of a closed session`, shellTxn(shell.Reopen)},
		"help":   {`: print this message`, shellHelp},
		"quit":   {`: discard uncommitted work and exit`, func(context.Context, io.Writer, []interface{}) error { return errQuit }},
	}
}

// interpret commands read from |r| until EOF or "quit", writing results
// to |w|. Errors of individual commands are printed and don't stop the
// interpreter.
func interpret(ctx context.Context, r io.Reader, w io.Writer, prompt string) error {
	var br = bufio.NewReader(r)

	for {
		_, _ = io.WriteString(w, prompt)

		var line, err = br.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		} else if err == io.EOF && line == "" {
			return nil
		}

		switch evalErr := eval(ctx, w, line); evalErr {
		case nil:
		case errQuit:
			return nil
		default:
			_, _ = fmt.Fprintf(w, "error: %s\n", evalErr)
		}
		if err == io.EOF {
			return nil
		}
	}
}

// eval a single command line.
func eval(ctx context.Context, w io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	var name, rest = line, ""
	if ind := strings.IndexAny(line, " \t"); ind != -1 {
		name, rest = line[:ind], line[ind+1:]
	}

	var cmd, ok = shellCommands[name]
	if !ok {
		return errors.Errorf("unknown command %q (try help)", name)
	}
	var args, err = parseShellArgs(rest)
	if err != nil {
		return err
	}
	return cmd.run(ctx, w, args)
}

// parseShellArgs parses whitespace-separated JSON values.
func parseShellArgs(s string) ([]interface{}, error) {
	var dec = json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var out []interface{}
	for {
		var v interface{}
		if err := dec.Decode(&v); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, errors.WithMessagef(document.ErrValidation, "argument %d: %s", len(out), err)
		}
		out = append(out, v)
	}
}

// shellArgs consumes typed positional arguments of a command.
type shellArgs []interface{}

func (a *shellArgs) next() (interface{}, bool) {
	if len(*a) == 0 {
		return nil, false
	}
	var v = (*a)[0]
	*a = (*a)[1:]
	return v, true
}

func (a *shellArgs) pattern(required bool) (document.Document, error) {
	var v, ok = a.next()
	if !ok || v == nil {
		if required {
			return nil, errors.New("expected a filter document")
		}
		return nil, nil
	}
	return document.FromValue(v)
}

func (a *shellArgs) str(what string, required bool) (string, error) {
	var v, ok = a.next()
	if !ok && !required {
		return "", nil
	} else if s, isStr := v.(string); !isStr {
		return "", errors.Errorf("expected %s as a string", what)
	} else {
		return s, nil
	}
}

func (a *shellArgs) number(what string, dflt float64) (float64, error) {
	var v, ok = a.next()
	if !ok {
		return dflt, nil
	} else if n, isNum := v.(json.Number); !isNum {
		return 0, errors.Errorf("expected %s as a number", what)
	} else {
		return n.Float64()
	}
}

func (a *shellArgs) bound() ([]interface{}, error) {
	var v, ok = a.next()
	if !ok || v == nil {
		return nil, nil
	}
	var arr, isArr = v.([]interface{})
	if !isArr {
		return nil, errors.New("expected statement arguments as an array")
	}
	var out = make([]interface{}, len(arr))
	for i := range arr {
		var err error
		if out[i], err = bindArg(arr[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a shellArgs) done() error {
	if len(a) != 0 {
		return errors.Errorf("unexpected extra arguments (%d)", len(a))
	}
	return nil
}

func session() (*store.Session, error) { return shell.Current() }

func printDocs(w io.Writer, docs []document.Document) error {
	return writeDocs(w, OutputConfig{Format: "json"}, docs)
}

func shellFind(ctx context.Context, w io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var pattern, err = args.pattern(false)
	if err != nil {
		return err
	}
	where, err := args.str("where clause", false)
	if err != nil {
		return err
	}
	bound, err := args.bound()
	if err != nil {
		return err
	}
	limit, err := args.number("limit", 0)
	if err != nil {
		return err
	} else if err = args.done(); err != nil {
		return err
	}

	s, err := session()
	if err != nil {
		return err
	}
	docs, err := s.Find(ctx, pattern, where, bound, int(limit))
	if err != nil {
		return err
	}
	return printDocs(w, docs)
}

func shellFindOne(ctx context.Context, w io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var pattern, err = args.pattern(false)
	if err != nil {
		return err
	}
	where, err := args.str("where clause", false)
	if err != nil {
		return err
	}
	bound, err := args.bound()
	if err != nil {
		return err
	} else if err = args.done(); err != nil {
		return err
	}

	s, err := session()
	if err != nil {
		return err
	}
	doc, ok, err := s.FindOne(ctx, pattern, where, bound...)
	if err != nil || !ok {
		return err
	}
	return printDocs(w, []document.Document{doc})
}

func shellGet(ctx context.Context, w io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var id, err = args.str("_id", true)
	if err != nil {
		return err
	} else if err = args.done(); err != nil {
		return err
	}

	s, err := session()
	if err != nil {
		return err
	}
	doc, ok, err := s.FindByID(ctx, id)
	if err != nil || !ok {
		return err
	}
	return printDocs(w, []document.Document{doc})
}

func shellDocs(raw []interface{}) ([]document.Document, error) {
	var args = shellArgs(raw)
	var v, ok = args.next()
	if !ok {
		return nil, errors.New("expected a document or array of documents")
	} else if err := args.done(); err != nil {
		return nil, err
	}
	return document.FromValues(v)
}

func shellInsert(ctx context.Context, w io.Writer, raw []interface{}) error {
	var docs, err = shellDocs(raw)
	if err != nil {
		return err
	}
	s, err := session()
	if err != nil {
		return err
	}
	if err = s.InsertMany(ctx, docs); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "inserted %d\n", len(docs))
	return err
}

func shellReplace(ctx context.Context, w io.Writer, raw []interface{}) error {
	var docs, err = shellDocs(raw)
	if err != nil {
		return err
	}
	s, err := session()
	if err != nil {
		return err
	}
	if err = s.ReplaceMany(ctx, docs); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "replaced %d\n", len(docs))
	return err
}

func shellDelete(ctx context.Context, _ io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var id, err = args.str("_id", true)
	if err != nil {
		return err
	} else if err = args.done(); err != nil {
		return err
	}
	s, err := session()
	if err != nil {
		return err
	}
	return s.DeleteOne(ctx, id)
}

func shellIncr(negate bool) func(context.Context, io.Writer, []interface{}) error {
	return func(ctx context.Context, _ io.Writer, raw []interface{}) error {
		var args = shellArgs(raw)
		var filter, err = args.pattern(true)
		if err != nil {
			return err
		}
		path, err := args.path()
		if err != nil {
			return err
		}
		delta, err := args.number("delta", 1)
		if err != nil {
			return err
		} else if err = args.done(); err != nil {
			return err
		}

		s, err := session()
		if err != nil {
			return err
		}
		if negate {
			return s.Decr(ctx, filter, path, delta)
		}
		return s.Incr(ctx, filter, path, delta)
	}
}

func shellPush(ctx context.Context, _ io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var filter, err = args.pattern(true)
	if err != nil {
		return err
	}
	path, err := args.path()
	if err != nil {
		return err
	}
	value, ok := args.next()
	if !ok {
		return errors.New("expected a value to append")
	} else if err = args.done(); err != nil {
		return err
	}

	s, err := session()
	if err != nil {
		return err
	}
	return s.Push(ctx, filter, path, value)
}

func (a *shellArgs) path() (document.Path, error) {
	var s, err = a.str("path", true)
	if err != nil {
		return nil, err
	}
	return document.ParsePath(s)
}

func shellSQL(ctx context.Context, w io.Writer, raw []interface{}) error {
	var args = shellArgs(raw)
	var stmt, err = args.str("statement", true)
	if err != nil {
		return err
	}
	bound, err := args.bound()
	if err != nil {
		return err
	} else if err = args.done(); err != nil {
		return err
	}

	s, err := session()
	if err != nil {
		return err
	}
	rows, err := s.Execute(ctx, stmt, bound, store.FetchAll)
	if err != nil {
		return err
	}
	var enc = json.NewEncoder(w)
	for _, row := range rows {
		if err = enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func shellTables(ctx context.Context, w io.Writer, raw []interface{}) error {
	if err := shellArgs(raw).done(); err != nil {
		return err
	}
	var s, err = session()
	if err != nil {
		return err
	}
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	for _, name := range tables {
		_, _ = fmt.Fprintln(w, name)
	}
	return nil
}

func shellTxn(fn func(context.Context) error) func(context.Context, io.Writer, []interface{}) error {
	return func(ctx context.Context, w io.Writer, raw []interface{}) error {
		if err := shellArgs(raw).done(); err != nil {
			return err
		}
		var s, err = session()
		if err != nil {
			return err
		}
		if err = fn(ctx); err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "session is %s\n", s.State())
		return err
	}
}

func shellHelp(_ context.Context, w io.Writer, _ []interface{}) error {
	var names = make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %s %s\n", name, shellCommands[name].usage)
	}
	return nil
}
