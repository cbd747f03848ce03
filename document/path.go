package document

import (
	"strings"

	"github.com/pkg/errors"
)

// Path is an ordered list of object keys addressing a nested location of a
// Document. Path{"hits", "organic"} addresses doc["hits"]["organic"].
type Path []string

// ParsePath parses a dot-separated path, such as "hits.organic".
func ParsePath(s string) (Path, error) {
	var p = Path(strings.Split(s, "."))
	return p, p.Validate()
}

// MustParsePath is ParsePath, which panics on error.
func MustParsePath(s string) Path {
	var p, err = ParsePath(s)
	if err != nil {
		panic(err.Error())
	}
	return p
}

// Validate returns an ErrValidation if the Path is empty or has an empty key.
func (p Path) Validate() error {
	if len(p) == 0 {
		return errors.WithMessage(ErrValidation, "path is empty")
	}
	for i, key := range p {
		if key == "" {
			return errors.WithMessagef(ErrValidation, "path %q has an empty key at index %d", p.String(), i)
		}
	}
	return nil
}

// Append returns a copy of the Path extended with |keys|.
func (p Path) Append(keys ...string) Path {
	var out = make(Path, 0, len(p)+len(keys))
	return append(append(out, p...), keys...)
}

// String returns the dot-separated form of the Path.
func (p Path) String() string { return strings.Join(p, ".") }
