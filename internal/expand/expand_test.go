package expand

import (
	"errors"
	"testing"

	"github.com/lefterav/expsuite/pkg/api"
)

func newSet(name string, kv ...any) *api.Params {
	p := api.NewParams()
	p.Set(api.KeyName, name)
	p.Set(api.KeyPath, ".")
	p.Set(api.KeyIterations, 3)
	p.Set(api.KeyRepetitions, 1)
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i].(string), kv[i+1])
	}
	return p
}

func names(ps []*api.Params) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

// TestExpandGridExample tests the two-value sweep from the README example
func TestExpandGridExample(t *testing.T) {
	e, err := Expand(newSet("exp", "alpha", []any{0.1, 0.2}))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	got := names(e.Children)
	if len(got) != 2 || got[0] != "exp/alpha0.1" || got[1] != "exp/alpha0.2" {
		t.Fatalf("unexpected names %v", got)
	}
	for _, c := range e.Children {
		if c.Iterations() != 3 || c.Repetitions() != 1 {
			t.Fatalf("%s lost reserved keys", c.Name())
		}
	}
	if v, _ := e.Children[1].Get("alpha"); v != 0.2 {
		t.Fatalf("alpha = %v", v)
	}
	if !e.Swept {
		t.Fatal("expected swept expansion")
	}
}

func TestExpandGridProduct(t *testing.T) {
	e, err := Expand(newSet("g", "a", []any{1, 2, 3}, "lr", 0.5, "b", []any{"x", "y"}))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"g/a1.0bx", "g/a1.0by", "g/a2.0bx", "g/a2.0by", "g/a3.0bx", "g/a3.0by"}
	got := names(e.Children)
	if len(got) != len(want) {
		t.Fatalf("got %d children, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("child %d = %s, want %s", i, got[i], want[i])
		}
	}
	if v, _ := e.Children[0].Get("lr"); v != 0.5 {
		t.Fatalf("unswept value changed: %v", v)
	}
}

func TestExpandList(t *testing.T) {
	e, err := Expand(newSet("l", "mode", "list", "a", []any{1, 2, 3}, "b", []any{0.1, 0.2, 0.3}))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	got := names(e.Children)
	want := []string{"l/a1.0b0.1", "l/a2.0b0.2", "l/a3.0b0.3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("child %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestExpandErrors(t *testing.T) {
	tests := []struct {
		name string
		set  *api.Params
		want error
	}{
		{"mismatch", newSet("m", "mode", "list", "a", []any{1, 2}, "b", []any{1}), ErrLengthMismatch},
		{"empty grid", newSet("e", "a", []any{}, "b", []any{1}), ErrNoWork},
		{"empty list", newSet("e", "mode", "list", "a", []any{}), ErrNoWork},
		{"bad mode", newSet("b", "mode", "diagonal", "a", []any{1}), ErrUnknownMode},
		{"non-string mode", newSet("b", "mode", []any{"list"}, "x", []any{1, 2}, "y", []any{1, 2, 3}), ErrUnknownMode},
		{"empty mode", newSet("b", "mode", "", "x", []any{1, 2}), ErrUnknownMode},
		{"name collision", newSet("c", "s", []any{"a b", "ab"}), ErrNameCollision},
		{"repeated value", newSet("c", "alpha", []any{0.1, 0.10}), ErrNameCollision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.set)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ee *Error
			if !errors.As(err, &ee) || ee.Name != tt.set.Name() {
				t.Fatalf("expected *Error naming %s, got %v", tt.set.Name(), err)
			}
		})
	}
}

func TestExpandSingle(t *testing.T) {
	p := newSet("s", "mode", "single", "a", []any{1, 2})
	e, err := Expand(p)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(e.Children) != 1 || e.Swept || e.Children[0].Name() != "s" {
		t.Fatalf("single set was expanded: %v", names(e.Children))
	}
	if v, _ := e.Children[0].Get("a"); len(v.([]any)) != 2 {
		t.Fatalf("sequence not passed through literally: %v", v)
	}
}

func TestExpandNestedSequenceMarksSingle(t *testing.T) {
	e, err := Expand(newSet("n", "layers", []any{[]any{1, 2}, []any{3}}))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if e.Children[0].Name() != "n/layers1.0-2.0" {
		t.Fatalf("name = %s", e.Children[0].Name())
	}
	if e.Children[0].Mode() != api.ModeSingle {
		t.Fatal("child with nested sequence must not re-expand")
	}
}

// TestBatchIsolatesFailures tests that one bad set does not stop the others
func TestBatchIsolatesFailures(t *testing.T) {
	sets := []*api.Params{
		newSet("ok1", "a", []any{1, 2}),
		newSet("bad", "mode", "list", "a", []any{1, 2}, "b", []any{1}),
		newSet("ok2"),
	}
	exps, err := Batch(sets)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v", err)
	}
	got := names(Children(exps))
	want := []string{"ok1/a1.0", "ok1/a2.0", "ok2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{0.1, "0.1"},
		{0.25, "0.25"},
		{2, "2.0"},
		{2.0, "2.0"},
		{-1.5, "-1.5"},
		{100.0, "100.0"},
		{"adam", "adam"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSuffixStripsUnsafeCharacters(t *testing.T) {
	got := Suffix([]string{"opt", "w"}, []any{"sgd (fast)", "a/b"})
	if got != "optsgdfastwab" {
		t.Fatalf("suffix = %q", got)
	}
}
