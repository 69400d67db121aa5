package api

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
)

// Params is a named, ordered parameter set. Key order is the declaration
// order of the config section it came from and drives sweep naming.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{values: map[string]any{}}
}

// Set stores v under key, keeping the key's original position if it exists.
// Integer, float and slice values are normalized to int, float64 and []any.
func (p *Params) Set(key string, v any) {
	if p.values == nil {
		p.values = map[string]any{}
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = Normalize(v)
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Delete removes key.
func (p *Params) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in declaration order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of keys.
func (p *Params) Len() int { return len(p.keys) }

// Clone returns a deep copy; sequences are copied so children of a sweep
// never share backing arrays with their parent.
func (p *Params) Clone() *Params {
	c := &Params{keys: make([]string, len(p.keys)), values: make(map[string]any, len(p.values))}
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Name returns the name key or "".
func (p *Params) Name() string { s, _ := p.String(KeyName); return s }

// Path returns the path key or "".
func (p *Params) Path() string { s, _ := p.String(KeyPath); return s }

// Mode returns the mode key or "".
func (p *Params) Mode() string { s, _ := p.String(KeyMode); return s }

// Iterations returns the iterations key or 0.
func (p *Params) Iterations() int { n, _ := p.Int(KeyIterations); return n }

// Repetitions returns the repetitions key or 0.
func (p *Params) Repetitions() int { n, _ := p.Int(KeyRepetitions); return n }

// Dir is the experiment directory, path/name.
func (p *Params) Dir() string { return filepath.Join(p.Path(), p.Name()) }

// String returns key as a string.
func (p *Params) String(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", fmt.Errorf("parameter %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q is %T, not a string", key, v)
	}
	return s, nil
}

// Int returns key as an int. Integral floats are accepted.
func (p *Params) Int(key string) (int, error) {
	v, ok := p.values[key]
	if !ok {
		return 0, fmt.Errorf("parameter %q not set", key)
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("parameter %q is %v, not an integer", key, v)
}

// Float returns key as a float64.
func (p *Params) Float(key string) (float64, error) {
	v, ok := p.values[key]
	if !ok {
		return 0, fmt.Errorf("parameter %q not set", key)
	}
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("parameter %q is %T, not a number", key, v)
}

// IsSequence reports whether v is a sweepable sequence value.
func IsSequence(v any) bool {
	_, ok := v.([]any)
	return ok
}

// Normalize converts Go numeric and slice types to the canonical value
// types stored in Params: int, float64, string, bool, []any, map[string]any.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, int, float64, string, bool, map[string]any:
		return v
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
