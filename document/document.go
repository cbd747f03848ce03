// Package document defines the JSON documents persisted by jsonbdoc, and
// their codec to and from the single document column of the backing table.
//
// A Document is a JSON object which must carry a non-empty string "_id".
// Documents are validated here, at the codec boundary, and are otherwise
// treated as opaque JSON by the rest of the system.
package document

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IDKey is the reserved key holding a Document's unique identifier.
const IDKey = "_id"

// ErrValidation is returned (possibly wrapped) for documents, patterns and
// paths which are malformed, not JSON-serializable, or lack a valid "_id".
var ErrValidation = errors.New("validation failed")

// Document is a JSON object. Values are those produced by encoding/json:
// strings, json.Number (or any Go number, prior to encoding), bools, nil,
// nested map[string]interface{} objects, and []interface{} arrays.
type Document map[string]interface{}

// ByID returns the Document pattern which matches exactly the document
// having identifier |id|.
func ByID(id string) Document { return Document{IDKey: id} }

// NewID returns a new random identifier, suitable for use as an "_id".
func NewID() string { return uuid.New().String() }

// ID returns the Document's "_id", or "" if it's not set or not a string.
func (d Document) ID() string {
	var s, _ = d[IDKey].(string)
	return s
}

// Validate returns an ErrValidation if the Document has no non-empty string
// "_id". It does not check that the Document is JSON-serializable, which is
// left to Encode.
func (d Document) Validate() error {
	if d == nil {
		return errors.WithMessage(ErrValidation, "document is nil")
	}
	switch id := d[IDKey].(type) {
	case nil:
		return errors.WithMessagef(ErrValidation, "document is missing %q", IDKey)
	case string:
		if id == "" {
			return errors.WithMessagef(ErrValidation, "document %q is empty", IDKey)
		}
		return nil
	default:
		return errors.WithMessagef(ErrValidation, "document %q must be a string (not %T)", IDKey, id)
	}
}

// Get returns the value at |path| within the Document.
func (d Document) Get(path Path) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d)

	for _, key := range path {
		var m, ok = asObject(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, len(path) != 0
}

// Set stores |value| at |path|, creating intermediate objects as required.
// It fails if an intermediate value exists but is not an object.
func (d Document) Set(path Path, value interface{}) error {
	if err := path.Validate(); err != nil {
		return err
	}
	var m = map[string]interface{}(d)

	for i, key := range path[:len(path)-1] {
		var next, ok = m[key]
		if !ok {
			var child = make(map[string]interface{})
			m[key], m = child, child
			continue
		}
		if m, ok = asObject(next); !ok {
			return errors.WithMessagef(ErrValidation, "%s is not an object", path[:i+1])
		}
	}
	m[path[len(path)-1]] = value
	return nil
}

// Sub returns the object at |key| as a Document, or nil if |key| is absent
// or not an object.
func (d Document) Sub(key string) Document {
	var m, _ = asObject(d[key])
	return Document(m)
}

// Clone returns a deep copy of the Document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]interface{}(d)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case Document:
		return cloneValue(map[string]interface{}(vv))
	case map[string]interface{}:
		var out = make(map[string]interface{}, len(vv))
		for k, c := range vv {
			out[k] = cloneValue(c)
		}
		return out
	case []interface{}:
		var out = make([]interface{}, len(vv))
		for i, c := range vv {
			out[i] = cloneValue(c)
		}
		return out
	default:
		return v
	}
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch vv := v.(type) {
	case map[string]interface{}:
		return vv, true
	case Document:
		return vv, true
	default:
		return nil, false
	}
}
