package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lefterav/expsuite/pkg/api"
)

// DefaultSection holds keys applied to every other section.
const DefaultSection = "DEFAULT"

// LoadExperiments reads an experiments file. If path is empty,
// experiments.yaml in the working directory is used.
func LoadExperiments(path string) ([]*api.Params, error) {
	if path == "" {
		path = "experiments.yaml"
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiments: %w", err)
	}
	sets, err := ParseSections(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sets, nil
}

// ParseSections decodes a YAML mapping of named sections into parameter
// sets. The section key becomes the name; keys keep their declaration order.
// Keys of a DEFAULT section are appended to every section not setting them.
func ParseSections(data []byte) ([]*api.Params, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of named sections", root.Line)
	}

	var defaults *api.Params
	var sets []*api.Params
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, body := root.Content[i], root.Content[i+1]
		p, err := decodeSection(body)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", key.Value, err)
		}
		if key.Value == DefaultSection {
			defaults = p
			continue
		}
		named := api.NewParams()
		named.Set(api.KeyName, key.Value)
		for _, k := range p.Keys() {
			if k == api.KeyName {
				continue
			}
			v, _ := p.Get(k)
			named.Set(k, v)
		}
		sets = append(sets, named)
	}

	if defaults != nil {
		for _, p := range sets {
			d := defaults.Clone()
			for _, k := range d.Keys() {
				if k == api.KeyName || p.Has(k) {
					continue
				}
				v, _ := d.Get(k)
				p.Set(k, v)
			}
		}
	}
	return sets, nil
}

func decodeSection(n *yaml.Node) (*api.Params, error) {
	p := api.NewParams()
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		return p, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		v, err := decodeValue(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", n.Content[i].Value, err)
		}
		p.Set(n.Content[i].Value, v)
	}
	return p, nil
}

func decodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeValue(n.Alias)
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!int":
			var i int
			if err := n.Decode(&i); err != nil {
				return nil, err
			}
			return i, nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, err
			}
			return f, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		case "!!null":
			return nil, nil
		default:
			return n.Value, nil
		}
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		var m map[string]any
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("line %d: unsupported value", n.Line)
}

// MarshalSections encodes parameter sets as named sections. String values
// are double quoted so they decode as strings again.
func MarshalSections(sets ...*api.Params) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range sets {
		body := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range p.Keys() {
			if k == api.KeyName {
				continue
			}
			v, _ := p.Get(k)
			vn, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("section %q key %q: %w", p.Name(), k, err)
			}
			body.Content = append(body.Content, scalar("!!str", k, 0), vn)
		}
		root.Content = append(root.Content, scalar("!!str", p.Name(), 0), body)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scalar(tag, value string, style yaml.Style) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value, Style: style}
}

func encodeValue(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case nil:
		return scalar("!!null", "null", 0), nil
	case string:
		return scalar("!!str", x, yaml.DoubleQuotedStyle), nil
	case int:
		return scalar("!!int", strconv.Itoa(x), 0), nil
	case float64:
		return scalar("!!float", formatFloat(x), 0), nil
	case bool:
		return scalar("!!bool", strconv.FormatBool(x), 0), nil
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, e := range x {
			en, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, en)
		}
		return seq, nil
	case map[string]any:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Style: yaml.FlowStyle}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			en, err := encodeValue(api.Normalize(x[k]))
			if err != nil {
				return nil, err
			}
			m.Content = append(m.Content, scalar("!!str", k, 0), en)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// formatFloat renders f so that YAML resolves it as a float again.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
