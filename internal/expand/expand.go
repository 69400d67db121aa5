// Package expand turns parameter sets with swept (sequence) values into the
// concrete, uniquely named parameter sets that are actually run.
package expand

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/lefterav/expsuite/pkg/api"
)

var (
	ErrNoWork         = errors.New("sweep produced no parameter sets")
	ErrLengthMismatch = errors.New("list sweep fields differ in length")
	ErrUnknownMode    = errors.New("unknown expansion mode")
	ErrNameCollision  = errors.New("swept values map to the same name")
)

// Error is the expansion failure of one parameter set.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("expand %s: %v", e.Name, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Expansion is one submitted set and the concrete sets it produced.
type Expansion struct {
	Source   *api.Params
	Children []*api.Params

	// Swept is set when Children were generated from sequence values.
	Swept bool
}

// Swept returns the keys of p holding sequence values, in declaration order.
// Reserved structural keys are never swept.
func Swept(p *api.Params) []string {
	var keys []string
	for _, k := range p.Keys() {
		switch k {
		case api.KeyName, api.KeyPath, api.KeyMode:
			continue
		}
		if v, _ := p.Get(k); api.IsSequence(v) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Expand expands a single parameter set according to its mode.
func Expand(p *api.Params) (Expansion, error) {
	mode := p.Mode()
	if v, ok := p.Get(api.KeyMode); ok && mode == "" {
		return Expansion{}, &Error{Name: p.Name(), Err: fmt.Errorf("%w %v, use grid, list or single", ErrUnknownMode, v)}
	}
	switch mode {
	case "", api.ModeGrid, api.ModeList, api.ModeSingle:
	default:
		return Expansion{}, &Error{Name: p.Name(), Err: fmt.Errorf("%w %q, use grid, list or single", ErrUnknownMode, mode)}
	}

	keys := Swept(p)
	if mode == api.ModeSingle || len(keys) == 0 {
		return Expansion{Source: p, Children: []*api.Params{p.Clone()}}, nil
	}

	seqs := make([][]any, len(keys))
	for i, k := range keys {
		v, _ := p.Get(k)
		seqs[i] = v.([]any)
	}

	var combos [][]any
	var err error
	if mode == api.ModeList {
		combos, err = zip(keys, seqs)
	} else {
		combos, err = product(keys, seqs)
	}
	if err != nil {
		return Expansion{}, &Error{Name: p.Name(), Err: err}
	}

	children := make([]*api.Params, 0, len(combos))
	seen := make(map[string]int, len(combos))
	for i, combo := range combos {
		c := child(p, keys, combo)
		if j, dup := seen[c.Name()]; dup {
			return Expansion{}, &Error{Name: p.Name(), Err: fmt.Errorf("%w: combinations %d and %d are both %s", ErrNameCollision, j, i, c.Name())}
		}
		seen[c.Name()] = i
		children = append(children, c)
	}
	return Expansion{Source: p, Children: children, Swept: true}, nil
}

// Batch expands every set independently. A failing set is left out and its
// error joined into the returned error; the others are still returned.
func Batch(sets []*api.Params) ([]Expansion, error) {
	var out []Expansion
	var errs []error
	for _, p := range sets {
		e, err := Expand(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, e)
	}
	return out, errors.Join(errs...)
}

// Children flattens expansions into the concrete sets, in order.
func Children(expansions []Expansion) []*api.Params {
	var out []*api.Params
	for _, e := range expansions {
		out = append(out, e.Children...)
	}
	return out
}

func child(p *api.Params, keys []string, combo []any) *api.Params {
	c := p.Clone()
	nested := false
	for i, k := range keys {
		c.Set(k, combo[i])
		if api.IsSequence(combo[i]) {
			nested = true
		}
	}
	c.Set(api.KeyName, p.Name()+"/"+Suffix(keys, combo))
	// A child still holding a sequence must not be swept again when its
	// snapshot is reloaded.
	if nested {
		c.Set(api.KeyMode, api.ModeSingle)
	}
	return c
}

// product is the Cartesian product of seqs; the last field varies fastest.
func product(keys []string, seqs [][]any) ([][]any, error) {
	total := 1
	for i, s := range seqs {
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: %q is empty", ErrNoWork, keys[i])
		}
		total *= len(s)
	}
	out := make([][]any, 0, total)
	idx := make([]int, len(seqs))
	for n := 0; n < total; n++ {
		combo := make([]any, len(seqs))
		for i, s := range seqs {
			combo[i] = s[idx[i]]
		}
		out = append(out, combo)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(seqs[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// zip combines seqs position-wise; all must share one length.
func zip(keys []string, seqs [][]any) ([][]any, error) {
	k := len(seqs[0])
	for i, s := range seqs {
		if len(s) != k {
			return nil, fmt.Errorf("%w: %q has %d values, %q has %d", ErrLengthMismatch, keys[0], k, keys[i], len(s))
		}
	}
	if k == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrNoWork, keys[0])
	}
	out := make([][]any, k)
	for n := 0; n < k; n++ {
		combo := make([]any, len(seqs))
		for i, s := range seqs {
			combo[i] = s[n]
		}
		out[n] = combo
	}
	return out, nil
}

// Suffix builds the directory-safe name segment for one combination.
func Suffix(keys []string, combo []any) string {
	var b strings.Builder
	for i, k := range keys {
		b.WriteString(k)
		b.WriteString(FormatValue(combo[i]))
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(`'"[](),/\:`, r) {
			return -1
		}
		return r
	}, b.String())
}

// FormatValue renders a swept value for a directory name. Numbers use
// fixed-point text with trailing zeros collapsed, so 0.1 and 0.10 and 1e-1
// all map to "0.1" and integers map to "2.0".
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return fixed(float64(x))
	case float64:
		return fixed(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return strings.Join(parts, "-")
	default:
		return fmt.Sprint(x)
	}
}

func fixed(f float64) string {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}
