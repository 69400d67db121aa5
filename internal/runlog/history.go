package runlog

import (
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Field is one decoded key:value token.
type Field struct {
	Key   string
	Raw   string
	Value any
}

// ParseLine splits a log line into fields. Tokens without a colon are
// returned separately so callers can report them.
func ParseLine(line string) (fields []Field, malformed []string) {
	for _, tok := range strings.Fields(line) {
		k, v, ok := strings.Cut(tok, ":")
		if !ok || k == "" {
			malformed = append(malformed, tok)
			continue
		}
		fields = append(fields, Field{Key: k, Raw: v, Value: ParseValue(v)})
	}
	return fields, malformed
}

// ParseValue decodes a logged value: integers, floats and bracketed lists
// of those become typed values, everything else stays the raw string. The
// text is only tokenized, never evaluated.
func ParseValue(s string) any {
	if s == "" {
		return s
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil || len(doc.Content) != 1 {
		return s
	}
	if v, ok := literal(doc.Content[0]); ok {
		return v
	}
	return s
}

func literal(n *yaml.Node) (any, bool) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Style != 0 {
			return nil, false
		}
		switch n.ShortTag() {
		case "!!int":
			var i int
			if n.Decode(&i) == nil {
				return i, true
			}
		case "!!float":
			var f float64
			if n.Decode(&f) == nil {
				return f, true
			}
		}
		return nil, false
	case yaml.SequenceNode:
		if n.Style != yaml.FlowStyle {
			return nil, false
		}
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, ok := literal(c)
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}
		return out, true
	}
	return nil, false
}

// History returns the decoded values per key of the log at path, in
// iteration order. With no tags every key is returned. The sentinel and a
// torn trailing line are skipped.
func History(path string, tags ...string) (map[string][]any, error) {
	c, err := Read(path)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	out := map[string][]any{}
	for i, line := range c.Lines {
		fields, bad := ParseLine(line)
		if len(bad) > 0 {
			log.Warn().Str("log", path).Int("line", i).Strs("tokens", bad).Msg("result pair not in key:value format")
		}
		for _, f := range fields {
			if len(want) > 0 && !want[f.Key] {
				continue
			}
			out[f.Key] = append(out[f.Key], f.Value)
		}
	}
	return out, nil
}
