package apicache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Key identifies a cached query result: operation name plus canonical
// JSON of its arguments.
type Key string

// MakeKey serializes args canonically: object keys sorted, numbers normalized
// (1, 1.0 and 1e0 collapse), insignificant whitespace dropped. Arguments that
// are equal as JSON values produce the same key.
func MakeKey(name string, args any) (Key, error) {
	canon, err := canonicalJSON(args)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgs, name, err)
	}
	return Key(name + "(" + canon + ")"), nil
}

func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", err
	}
	// encoding/json sorts map keys on marshal.
	out, err := json.Marshal(normalizeNumbers(tree))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumbers(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalizeNumbers(x)
		}
		return t
	case json.Number:
		return canonicalNumber(t)
	default:
		return v
	}
}

func canonicalNumber(n json.Number) json.Number {
	if i, err := n.Int64(); err == nil {
		return json.Number(strconv.FormatInt(i, 10))
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) {
		return n
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}
