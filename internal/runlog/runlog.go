// Package runlog reads and writes repetition logs: one line of key-sorted
// key:value tokens per completed iteration, optionally terminated by the
// exception:error sentinel.
package runlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/lefterav/expsuite/pkg/api"
)

// Sentinel marks a repetition aborted by a failing hook. It is always the
// last line of its log.
const Sentinel = "exception:error"

// BackupLayout is the timestamp embedded in backup file names.
const BackupLayout = "2006-01-02_15-04-05"

// Contents is what Read found in a log file.
type Contents struct {
	// Lines are the complete iteration records, sentinel excluded.
	Lines []string

	// Sentinel is set when the log ends in the sentinel.
	Sentinel bool

	// Torn is set when a trailing fragment without newline was dropped.
	Torn bool
}

// Read parses the log at path. A missing file is reported with an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Read(path string) (Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Contents{}, err
	}
	return parse(data), nil
}

func parse(data []byte) Contents {
	var c Contents
	if len(data) == 0 {
		return c
	}
	parts := strings.Split(string(data), "\n")
	last := parts[len(parts)-1]
	parts = parts[:len(parts)-1]
	if last != "" {
		// Unterminated final fragment: either a sentinel written without
		// newline or an iteration cut short by a kill.
		if strings.TrimSpace(last) == Sentinel {
			c.Sentinel = true
		} else {
			c.Torn = true
		}
	}
	if !c.Sentinel && len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == Sentinel {
		c.Sentinel = true
		parts = parts[:len(parts)-1]
	}
	c.Lines = parts
	return c
}

// Rewrite atomically replaces the log at path with lines.
func Rewrite(path string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("rewrite log: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("rewrite log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("rewrite log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rewrite log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rewrite log: %w", err)
	}
	return nil
}

// Backup copies the log byte for byte to <path>.<timestamp>.bak. An existing
// backup is never overwritten; a second backup within the same second gets a
// numbered name, <path>.<timestamp>.1.bak and so on.
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup log: %w", err)
	}
	defer src.Close()
	out, dst, err := CreateUnique(fmt.Sprintf("%s.%s", path, now.Format(BackupLayout)), ".bak")
	if err != nil {
		return "", fmt.Errorf("backup log: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("backup log: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("backup log: %w", err)
	}
	return dst, nil
}

// CreateUnique creates base+ext, or base.N+ext with the smallest N that does
// not exist yet, and returns the open file with its name.
func CreateUnique(base, ext string) (*os.File, string, error) {
	name := base + ext
	for n := 1; ; n++ {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		name = fmt.Sprintf("%s.%d%s", base, n, ext)
	}
}

// Remove deletes the log at path; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// Writer appends records to one log file, syncing after every line.
type Writer struct {
	f *os.File
}

// Create opens path for writing. With appendMode the existing records are
// kept; otherwise the file is truncated.
func Create(path string, appendMode bool) (*Writer, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !appendMode {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &Writer{f: f}, nil
}

// WriteLine appends line and flushes it to disk.
func (w *Writer) WriteLine(line string) error {
	if _, err := w.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

// WriteSentinel terminates the log after a hook failure.
func (w *Writer) WriteSentinel() error { return w.WriteLine(Sentinel) }

func (w *Writer) Close() error { return w.f.Close() }

// Encode renders rec as key-sorted, space separated key:value tokens.
// Keys are expected to be sanitized already.
func Encode(rec api.Result) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tokens := make([]string, len(keys))
	for i, k := range keys {
		tokens[i] = k + ":" + FormatValue(rec[k])
	}
	return strings.Join(tokens, " ")
}

// FormatValue renders one value so that ParseValue reads it back: integers
// in decimal, floats in shortest form with a fractional part, sequences as
// [a,b] without spaces. Whitespace inside strings becomes underscores since
// it would split the token.
func FormatValue(v any) string {
	switch x := api.Normalize(v).(type) {
	case nil:
		return "None"
	case string:
		return replaceSpace(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return replaceSpace(fmt.Sprint(x))
	}
}

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

func replaceSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
}

// Sanitizer rewrites result keys containing whitespace and warns once per
// offending key for the lifetime of the Sanitizer. It is safe for
// concurrent use.
type Sanitizer struct {
	warned sync.Map
}

// Sanitize returns rec with whitespace in keys replaced by underscores.
// Renamed keys win over an existing key of the same spelling.
func (s *Sanitizer) Sanitize(rec api.Result, logger zerolog.Logger) api.Result {
	out := make(api.Result, len(rec))
	var renamed []string
	for k, v := range rec {
		if strings.IndexFunc(k, unicode.IsSpace) >= 0 {
			renamed = append(renamed, k)
			continue
		}
		out[k] = v
	}
	sort.Strings(renamed)
	for _, k := range renamed {
		nk := replaceSpace(k)
		out[nk] = rec[k]
		if _, seen := s.warned.LoadOrStore(k, true); !seen {
			logger.Warn().Str("key", k).Str("renamed", nk).Msg("result key contained spaces and was renamed")
		}
	}
	return out
}
