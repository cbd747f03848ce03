package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Encode validates the Document and returns its JSON encoding, as stored in
// the document column.
func Encode(doc Document) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return Marshal(doc)
}

// Marshal returns the JSON encoding of |v|, which may be any JSON-shaped
// value (such as a pattern, or an element to append). It fails with
// ErrValidation if |v| is not JSON-serializable.
func Marshal(v interface{}) ([]byte, error) {
	var b, err = json.Marshal(v)
	if err != nil {
		return nil, errors.WithMessagef(ErrValidation, "not JSON-serializable: %s", err)
	}
	return b, nil
}

// Decode a stored JSON value into a Document. The value must be a JSON
// object. Numbers are decoded as json.Number, so that they round-trip
// exactly.
func Decode(b []byte) (Document, error) {
	var v, err = decodeValue(b)
	if err != nil {
		return nil, err
	}
	var m, ok = v.(map[string]interface{})
	if !ok {
		return nil, errors.WithMessagef(ErrValidation, "stored value is not an object (%T)", v)
	}
	return Document(m), nil
}

// DecodeMany decodes a JSON array of objects, or a single JSON object,
// into Documents.
func DecodeMany(b []byte) ([]Document, error) {
	var v, err = decodeValue(b)
	if err != nil {
		return nil, err
	}
	return fromDecoded(v)
}

// FromValue converts an arbitrary JSON-shaped Go value (for example, a
// struct with json tags, or a map decoded from YAML) into a Document.
func FromValue(v interface{}) (Document, error) {
	if n, err := Normalize(v); err != nil {
		return nil, err
	} else if m, ok := n.(map[string]interface{}); !ok {
		return nil, errors.WithMessagef(ErrValidation, "value is not an object (%T)", n)
	} else {
		return Document(m), nil
	}
}

// FromValues is FromValue for a value which is either an object or an
// array of objects.
func FromValues(v interface{}) ([]Document, error) {
	var n, err = Normalize(v)
	if err != nil {
		return nil, err
	}
	return fromDecoded(n)
}

// Normalize maps |v| into the value space of encoding/json with UseNumber:
// map[string]interface{}, []interface{}, string, json.Number, bool and nil.
// Maps having non-string keys (as produced by gopkg.in/yaml.v2) have their
// keys formatted as strings.
func Normalize(v interface{}) (interface{}, error) {
	v = stringifyKeys(v)

	var b, err = Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(b)
}

func stringifyKeys(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		var out = make(map[string]interface{}, len(vv))
		for k, c := range vv {
			out[fmt.Sprint(k)] = stringifyKeys(c)
		}
		return out
	case map[string]interface{}:
		var out = make(map[string]interface{}, len(vv))
		for k, c := range vv {
			out[k] = stringifyKeys(c)
		}
		return out
	case Document:
		return stringifyKeys(map[string]interface{}(vv))
	case []interface{}:
		var out = make([]interface{}, len(vv))
		for i, c := range vv {
			out[i] = stringifyKeys(c)
		}
		return out
	default:
		return v
	}
}

func fromDecoded(v interface{}) ([]Document, error) {
	switch vv := v.(type) {
	case map[string]interface{}:
		return []Document{vv}, nil
	case []interface{}:
		var out = make([]Document, 0, len(vv))
		for i, c := range vv {
			var m, ok = c.(map[string]interface{})
			if !ok {
				return nil, errors.WithMessagef(ErrValidation, "element %d is not an object (%T)", i, c)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, errors.WithMessagef(ErrValidation, "expected an object or array of objects (not %T)", v)
	}
}

func decodeValue(b []byte) (interface{}, error) {
	var dec = json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.WithMessagef(ErrValidation, "decoding JSON: %s", err)
	}
	// Expect exactly one value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.WithMessage(ErrValidation, "decoding JSON: unexpected trailing data")
	}
	return v, nil
}

// Plain returns |v| having json.Number values replaced by int64 (if
// integral and in range) or float64 values, as expected by encoders other
// than encoding/json and by database drivers. Maps and slices are copied.
func Plain(v interface{}) interface{} {
	switch vv := v.(type) {
	case json.Number:
		if i, err := vv.Int64(); err == nil {
			return i
		} else if f, err := vv.Float64(); err == nil {
			return f
		}
		return vv.String()
	case Document:
		return Plain(map[string]interface{}(vv))
	case map[string]interface{}:
		var out = make(map[string]interface{}, len(vv))
		for k, c := range vv {
			out[k] = Plain(c)
		}
		return out
	case []interface{}:
		var out = make([]interface{}, len(vv))
		for i, c := range vv {
			out[i] = Plain(c)
		}
		return out
	default:
		return v
	}
}
