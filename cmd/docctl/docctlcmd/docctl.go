// Package docctlcmd implements the sub-commands of docctl.
package docctlcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"go.jsonbdoc.dev/core/document"
	mbp "go.jsonbdoc.dev/core/mainboilerplate"
	"go.jsonbdoc.dev/core/store"
	"gopkg.in/yaml.v2"
)

const iniFilename = "docctl.ini"

var (
	baseCfg = new(struct {
		Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
		Store       mbp.StoreConfig       `group:"Store" namespace:"store" env-namespace:"STORE"`
	})

	RegisterCommands []RegisterCommandFunc
)

// RegisterCommandFunc adds a sub-command to a parent.
type RegisterCommandFunc func(*flags.Command) error

// FilterConfig is common configuration of commands which select documents.
type FilterConfig struct {
	Pattern string `long:"pattern" short:"p" description:"Pattern (as JSON or YAML) which selected documents contain"`
	ID      string `long:"id" description:"Select the document having this _id. Combined with --pattern, if both are set"`
}

// OutputConfig is common configuration of commands which print documents.
type OutputConfig struct {
	Format  string   `long:"format" short:"o" choice:"json" choice:"yaml" choice:"table" default:"json" description:"Output format"`
	Columns []string `long:"column" short:"c" description:"Dot-separated paths to present as table columns, eg -c type -c meta.score"`
}

// filter returns the pattern of the FilterConfig.
func (cfg FilterConfig) filter() (document.Document, error) {
	var pattern, err = parsePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if cfg.ID != "" {
		if pattern == nil {
			pattern = document.Document{}
		}
		pattern[document.IDKey] = cfg.ID
	}
	return pattern, nil
}

// parsePattern parses a JSON or YAML object. An empty string is a nil pattern.
func parsePattern(s string) (document.Document, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var v, err = parseValue(s)
	if err != nil {
		return nil, err
	}
	return document.FromValue(v)
}

// parseValue parses a JSON or YAML value.
func parseValue(s string) (interface{}, error) {
	var v interface{}
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, errors.WithMessagef(document.ErrValidation, "parsing %q: %s", s, err)
	}
	return document.Normalize(v)
}

// bindArg converts a parsed value into an argument of a SQL statement.
// Objects and arrays are bound as encoded JSON.
func bindArg(v interface{}) (interface{}, error) {
	switch v := document.Plain(v).(type) {
	case map[string]interface{}, []interface{}:
		var b, err = document.Marshal(v)
		return string(b), err
	default:
		return v, nil
	}
}

func writeDocs(w io.Writer, cfg OutputConfig, docs []document.Document) error {
	switch cfg.Format {
	case "yaml":
		var plain = make([]interface{}, len(docs))
		for i, doc := range docs {
			plain[i] = document.Plain(doc)
		}
		var b, err = yaml.Marshal(plain)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err

	case "table":
		writeTable(w, cfg.Columns, docs)
		return nil

	default:
		var enc = json.NewEncoder(w)
		for _, doc := range docs {
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeTable(w io.Writer, columns []string, docs []document.Document) {
	var table = tablewriter.NewWriter(w)
	table.Header(append([]string{document.IDKey}, columns...))

	for _, doc := range docs {
		var row = []string{doc.ID()}

		for _, col := range columns {
			var path, err = document.ParsePath(col)
			if err != nil {
				row = append(row, "<invalid>")
				continue
			}
			row = append(row, cell(doc, path))
		}
		_ = table.Append(row)
	}
	_ = table.Render()
}

func cell(doc document.Document, path document.Path) string {
	var v, ok = doc.Get(path)
	if !ok {
		return ""
	}
	switch vv := v.(type) {
	case string:
		return vv
	case json.Number:
		return vv.String()
	default:
		var b, _ = json.Marshal(v)
		return string(b)
	}
}

// withSession runs |fn| with a Session of the configured store, which is
// committed if |fn| succeeds.
func withSession(fn func(context.Context, *store.Session) error) error {
	var connector = baseCfg.Store.MustConnector()
	defer connector.Close()

	return connector.Wrap(fn)(context.Background())
}

func startup() {
	mbp.InitLog(baseCfg.Log)
	mbp.InitDiagnostics(baseCfg.Diagnostics)
}

// Execute docctl with the process arguments.
func Execute() {
	var parser = flags.NewParser(baseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = fmt.Sprintf(`docctl is a tool for storing and querying JSON documents, held in a
single table of a Postgres or SQLite database.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure docctl with a '%[1]s' file in the current working directory,
	or with '~/.config/jsonbdoc/%[1]s'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`, iniFilename)

	for _, addCommand := range RegisterCommands {
		mbp.Must(addCommand(parser.Command), "could not add subcommand")
	}
	mbp.MustParseConfig(parser, iniFilename)
}

var stdout io.Writer = os.Stdout
