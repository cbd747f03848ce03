package docctlcmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/store"
)

type cmdInsert struct {
	InputConfig
}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdInsert)
}

func AddCmdInsert(cmd *flags.Command) error {
	_, err := cmd.AddCommand("insert", "Insert documents", `
Insert documents read from files, or from stdin given as "-".

Files ending in ".json" may hold a single JSON object or an array of objects.
Other files are read as YAML, and may likewise hold an object or a sequence
of objects. Every document must have a string "_id" unless --gen-id is set.

Documents are inserted in a single transaction: if any insert fails (for
example, because its "_id" is already present) no document is inserted.

>    docctl insert posts.json more-posts.yaml
>    echo '{"_id": "a", "type": "post"}' | docctl insert -
`, &cmdInsert{})
	return err
}

func (cmd *cmdInsert) Execute(args []string) error {
	startup()

	if len(args) == 0 {
		return errors.New("expected at least one file (or - for stdin)")
	}
	var docs, err = loadDocuments(osFs, stdin, args)
	if err != nil {
		return err
	}
	if cmd.GenID {
		assignIDs(docs)
	}

	if err = withSession(func(ctx context.Context, s *store.Session) error {
		return s.InsertMany(ctx, docs)
	}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "inserted %s documents\n", humanize.Comma(int64(len(docs))))
	return nil
}

type cmdReplace struct{}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdReplace)
}

func AddCmdReplace(cmd *flags.Command) error {
	_, err := cmd.AddCommand("replace", "Replace documents", `
Replace stored documents with documents read from files, or from stdin given
as "-". Each document replaces the stored document having the same "_id",
which must exist. Files are read as with "insert".

Documents are replaced in a single transaction: if any is not found, no
document is replaced.
`, &cmdReplace{})
	return err
}

func (cmd *cmdReplace) Execute(args []string) error {
	startup()

	if len(args) == 0 {
		return errors.New("expected at least one file (or - for stdin)")
	}
	var docs, err = loadDocuments(osFs, stdin, args)
	if err != nil {
		return err
	}
	if err = withSession(func(ctx context.Context, s *store.Session) error {
		return s.ReplaceMany(ctx, docs)
	}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "replaced %s documents\n", humanize.Comma(int64(len(docs))))
	return nil
}

type cmdDelete struct{}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdDelete)
}

func AddCmdDelete(cmd *flags.Command) error {
	_, err := cmd.AddCommand("delete", "Delete documents by _id", `
Delete the documents having each given "_id". Absent documents are ignored.

>    docctl delete 01 02
`, &cmdDelete{})
	return err
}

func (cmd *cmdDelete) Execute(args []string) error {
	startup()

	if len(args) == 0 {
		return errors.New("expected at least one _id")
	}
	if err := withSession(func(ctx context.Context, s *store.Session) error {
		for _, id := range args {
			if err := s.DeleteOne(ctx, id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "deleted %s documents\n", humanize.Comma(int64(len(args))))
	return nil
}

