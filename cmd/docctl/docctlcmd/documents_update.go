package docctlcmd

import (
	"context"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
	"go.jsonbdoc.dev/core/store"
)

type cmdIncr struct {
	FilterConfig
	Path  string  `long:"path" required:"true" description:"Dot-separated path of the numeric value to update"`
	Delta float64 `long:"delta" default:"1" description:"Amount to add"`

	negate bool
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdIncr, AddCmdDecr)
}

func AddCmdIncr(cmd *flags.Command) error {
	_, err := cmd.AddCommand("incr", "Increment a numeric value", `
Increment the number at --path of the first document, by "_id", which
contains --pattern (or which has --id). It's an error if no document matches,
or if the value at --path is missing or isn't a number.

>    docctl incr --id 03 --path hits.organic
>    docctl incr -p '{type: post}' --path score --delta 2.5
`, &cmdIncr{})
	return err
}

func AddCmdDecr(cmd *flags.Command) error {
	_, err := cmd.AddCommand("decr", "Decrement a numeric value", `
Decrement the number at --path of the first matched document. See "incr".
`, &cmdIncr{negate: true})
	return err
}

func (cmd *cmdIncr) Execute([]string) error {
	startup()

	var filter, path, err = cmd.target(cmd.Path)
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *store.Session) error {
		if cmd.negate {
			return s.Decr(ctx, filter, path, cmd.Delta)
		}
		return s.Incr(ctx, filter, path, cmd.Delta)
	})
}

type cmdPush struct {
	FilterConfig
	Path  string `long:"path" required:"true" description:"Dot-separated path of the array to append to"`
	Value string `long:"value" required:"true" description:"Value to append, as JSON or YAML"`
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdPush)
}

func AddCmdPush(cmd *flags.Command) error {
	_, err := cmd.AddCommand("push", "Append to an array", `
Append --value to the array at --path of the first document, by "_id", which
contains --pattern (or which has --id). It's an error if no document matches,
or if the value at --path is missing or isn't an array.

>    docctl push --id 03 --path tags --value '"news"'
`, &cmdPush{})
	return err
}

func (cmd *cmdPush) Execute([]string) error {
	startup()

	var filter, path, err = cmd.target(cmd.Path)
	if err != nil {
		return err
	}
	value, err := parseValue(cmd.Value)
	if err != nil {
		return err
	}
	return withSession(func(ctx context.Context, s *store.Session) error {
		return s.Push(ctx, filter, path, value)
	})
}

// target returns the filter and parsed |path| of an update.
func (cfg FilterConfig) target(path string) (document.Document, document.Path, error) {
	var filter, err = cfg.filter()
	if err != nil {
		return nil, nil, err
	} else if filter == nil {
		return nil, nil, errors.New("expected --pattern or --id")
	}
	p, err := document.ParsePath(path)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "--path")
	}
	return filter, p, nil
}
