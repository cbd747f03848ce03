package docctlcmd

import (
	"context"

	"github.com/jessevdk/go-flags"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/store"
)

type cmdFind struct {
	FilterConfig
	OutputConfig
	Where string   `long:"where" short:"w" description:"Additional SQL condition, using ? placeholders"`
	Args  []string `long:"arg" short:"a" description:"Argument of a --where placeholder, as JSON or YAML. Repeatable"`
	Limit int      `long:"limit" short:"n" description:"Maximum number of documents to return (0 for no limit)"`
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdFind)
}

func AddCmdFind(cmd *flags.Command) error {
	_, err := cmd.AddCommand("find", "Find documents", `
Find documents which contain a --pattern, ordered by "_id".

A document contains a pattern if every key of the pattern is present in the
document with an equal value. Nested objects match recursively, and arrays
must be exactly equal. An empty pattern matches every document.

Use --where to further constrain matched documents with a SQL condition over
the "doc" column, which may use ? placeholders bound by repeated --arg flags:

>    docctl find -p '{type: post}'
>    docctl find --where "doc->>'title' LIKE ?" --arg 'Intro%' -o table -c title
`, &cmdFind{})
	return err
}

func (cmd *cmdFind) Execute([]string) error {
	startup()

	var pattern, err = cmd.filter()
	if err != nil {
		return err
	}
	args, err := cmd.bindArgs()
	if err != nil {
		return err
	}

	var docs []document.Document
	if err = withSession(func(ctx context.Context, s *store.Session) (err error) {
		docs, err = s.Find(ctx, pattern, cmd.Where, args, cmd.Limit)
		return err
	}); err != nil {
		return err
	}
	return writeDocs(stdout, cmd.OutputConfig, docs)
}

func (cmd *cmdFind) bindArgs() ([]interface{}, error) {
	var out []interface{}
	for _, s := range cmd.Args {
		var v, err = parseValue(s)
		if err == nil {
			v, err = bindArg(v)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type cmdFindOne struct {
	FilterConfig
	OutputConfig
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdFindOne)
}

func AddCmdFindOne(cmd *flags.Command) error {
	_, err := cmd.AddCommand("find-one", "Find the first matching document", `
Find the document with the lowest "_id" which contains --pattern, or the
document having --id. Nothing is printed if no document matches.

>    docctl find-one --id 03 -o yaml
`, &cmdFindOne{})
	return err
}

func (cmd *cmdFindOne) Execute([]string) error {
	startup()

	var pattern, err = cmd.filter()
	if err != nil {
		return err
	}
	var docs []document.Document

	if err = withSession(func(ctx context.Context, s *store.Session) error {
		var doc, ok, err = s.FindOne(ctx, pattern, "")
		if ok {
			docs = append(docs, doc)
		}
		return err
	}); err != nil {
		return err
	}
	return writeDocs(stdout, cmd.OutputConfig, docs)
}
