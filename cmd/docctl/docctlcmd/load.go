package docctlcmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.jsonbdoc.dev/core/document"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

// InputConfig is common configuration of commands which read documents.
type InputConfig struct {
	GenID bool `long:"gen-id" description:"Generate a random _id for documents which don't have one"`
}

// loadDocuments reads documents from each of |paths|, in order. Files ending
// in ".json" hold a JSON object or array of objects. Other files, and stdin
// (given as "-"), are decoded as YAML, which is a superset of JSON.
// Files are read concurrently.
func loadDocuments(fs afero.Fs, stdin io.Reader, paths []string) ([]document.Document, error) {
	var loaded = make([][]document.Document, len(paths))
	var grp errgroup.Group

	for i, path := range paths {
		var i, path = i, path

		if path == "-" {
			var b, err = io.ReadAll(stdin)
			if err != nil {
				return nil, errors.WithMessage(err, "reading stdin")
			}
			if loaded[i], err = decodeYAML(b); err != nil {
				return nil, errors.WithMessage(err, "decoding stdin")
			}
			continue
		}

		grp.Go(func() error {
			var b, err = afero.ReadFile(fs, path)
			if err != nil {
				return err
			}
			if strings.EqualFold(filepath.Ext(path), ".json") {
				loaded[i], err = document.DecodeMany(b)
			} else {
				loaded[i], err = decodeYAML(b)
			}
			return errors.WithMessagef(err, "decoding %s", path)
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var out []document.Document
	for _, docs := range loaded {
		out = append(out, docs...)
	}
	return out, nil
}

func decodeYAML(b []byte) ([]document.Document, error) {
	var v interface{}
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, errors.WithMessagef(document.ErrValidation, "%s", err)
	}
	return document.FromValues(v)
}

// assignIDs sets a generated _id of each document which is missing one,
// returning the number assigned.
func assignIDs(docs []document.Document) int {
	var n int
	for _, doc := range docs {
		if _, ok := doc[document.IDKey]; !ok {
			doc[document.IDKey] = document.NewID()
			n++
		}
	}
	return n
}

var osFs afero.Fs = afero.NewOsFs()
var stdin io.Reader = os.Stdin
