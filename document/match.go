package document

import (
	"encoding/json"
	"math/big"
	"sort"
)

// Contains returns whether |doc| structurally contains |pattern|: every key
// of |pattern| is present in |doc|, and nested objects are themselves
// contained. Arrays and scalars must be equal, where numbers are compared
// by value (1 equals 1.0). An empty pattern is contained by every document.
func Contains(doc, pattern Document) (bool, error) {
	var d, err = Normalize(doc)
	if err != nil {
		return false, err
	}
	p, err := Normalize(pattern)
	if err != nil {
		return false, err
	}
	return containsValue(d, p), nil
}

// ContainsJSON is Contains over encoded JSON values.
func ContainsJSON(doc, pattern []byte) (bool, error) {
	var d, err = decodeValue(doc)
	if err != nil {
		return false, err
	}
	p, err := decodeValue(pattern)
	if err != nil {
		return false, err
	}
	return containsValue(d, p), nil
}

// Equal returns whether |a| and |b| are equal JSON values. Object key order
// is insignificant, and numbers are compared by value.
func Equal(a, b interface{}) bool {
	var na, err = Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return equalValue(na, nb)
}

// Leaf is a value of a Document, and the Path at which it's found.
type Leaf struct {
	Path  Path
	Value interface{}
}

// ArrayLeaves returns the array values of |pattern| and their paths, ordered
// by path. Arrays nested within arrays are not separately reported.
func ArrayLeaves(pattern Document) ([]Leaf, error) {
	var n, err = Normalize(pattern)
	if err != nil {
		return nil, err
	}
	var m, _ = n.(map[string]interface{})

	var out []Leaf
	walkArrays(m, nil, &out)
	return out, nil
}

func walkArrays(m map[string]interface{}, prefix Path, out *[]Leaf) {
	for _, key := range sortedKeys(m) {
		switch v := m[key].(type) {
		case []interface{}:
			*out = append(*out, Leaf{Path: prefix.Append(key), Value: v})
		case map[string]interface{}:
			walkArrays(v, prefix.Append(key), out)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	var keys = make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsValue(have, want interface{}) bool {
	var w, ok = want.(map[string]interface{})
	if !ok {
		return equalValue(have, want)
	}
	h, ok := have.(map[string]interface{})
	if !ok {
		return false
	}
	for key, wv := range w {
		if hv, ok := h[key]; !ok || !containsValue(hv, wv) {
			return false
		}
	}
	return true
}

func equalValue(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		var bv, ok = b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, ac := range av {
			if bc, ok := bv[key]; !ok || !equalValue(ac, bc) {
				return false
			}
		}
		return true

	case []interface{}:
		var bv, ok = b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true

	case json.Number:
		var bv, ok = b.(json.Number)
		return ok && numbersEqual(av, bv)

	default:
		// string, bool, or nil.
		return a == b
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	var ra, okA = new(big.Rat).SetString(string(a))
	var rb, okB = new(big.Rat).SetString(string(b))
	return okA && okB && ra.Cmp(rb) == 0
}
