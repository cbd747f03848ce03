package docctlcmd

import (
	"context"
	"fmt"

	"github.com/jessevdk/go-flags"
	"go.jsonbdoc.dev/core/store"
)

type cmdSetup struct{}

type cmdDrop struct {
	Sure bool `long:"sure" description:"Confirm the table should be dropped"`
}

type cmdClear struct {
	Sure bool `long:"sure" description:"Confirm every document should be deleted"`
}

type cmdTables struct{}

func init() {
	RegisterCommands = append(RegisterCommands, AddCmdSetup, AddCmdDrop, AddCmdClear, AddCmdTables)
}

func AddCmdSetup(cmd *flags.Command) error {
	_, err := cmd.AddCommand("setup", "Create the document table", `
Create the document table and its indices, if they don't already exist.
Other commands also do this unless --store.skip-setup is set.
`, &cmdSetup{})
	return err
}

func AddCmdDrop(cmd *flags.Command) error {
	_, err := cmd.AddCommand("drop", "Drop the document table", `
Drop the document table and every document within it. Requires --sure.
`, &cmdDrop{})
	return err
}

func AddCmdClear(cmd *flags.Command) error {
	_, err := cmd.AddCommand("clear", "Delete every document", `
Delete every document, keeping the table. Requires --sure.
`, &cmdClear{})
	return err
}

func AddCmdTables(cmd *flags.Command) error {
	_, err := cmd.AddCommand("tables", "List database tables", `
List the names of user tables of the database, one per line.
`, &cmdTables{})
	return err
}

func (cmd *cmdSetup) Execute([]string) error {
	startup()
	return withSession(func(ctx context.Context, s *store.Session) error {
		return s.EnsureTable(ctx)
	})
}

func (cmd *cmdDrop) Execute([]string) error {
	startup()
	return withSession(func(ctx context.Context, s *store.Session) error {
		return s.DropTable(ctx, cmd.Sure)
	})
}

func (cmd *cmdClear) Execute([]string) error {
	startup()
	return withSession(func(ctx context.Context, s *store.Session) error {
		return s.ClearTable(ctx, cmd.Sure)
	})
}

func (cmd *cmdTables) Execute([]string) error {
	startup()

	var tables []string
	if err := withSession(func(ctx context.Context, s *store.Session) (err error) {
		tables, err = s.Tables(ctx)
		return err
	}); err != nil {
		return err
	}
	for _, name := range tables {
		_, _ = fmt.Fprintln(stdout, name)
	}
	return nil
}
