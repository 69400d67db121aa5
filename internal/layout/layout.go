// Package layout maps parameter sets onto experiment directories and keeps
// the experiment.yaml snapshot that makes each directory self-describing.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lefterav/expsuite/internal/config"
	"github.com/lefterav/expsuite/pkg/api"
)

// SnapshotFile is the parameter snapshot inside every experiment directory.
const SnapshotFile = "experiment.yaml"

// Dir is the directory of p: path/name.
func Dir(p *api.Params) string { return p.Dir() }

// LogPath is the log file of repetition rep inside dir.
func LogPath(dir string, rep int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", rep))
}

// Prepare creates the directory of p, removes the regular files in it when
// clean is set, and writes the snapshot. It is safe to call repeatedly.
func Prepare(p *api.Params, clean bool) (string, error) {
	dir := Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if clean {
		if err := removeFiles(dir); err != nil {
			return "", err
		}
	}
	if err := WriteSnapshot(dir, p); err != nil {
		return "", err
	}
	return dir, nil
}

func removeFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("clean %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSnapshot atomically replaces dir/experiment.yaml with p.
func WriteSnapshot(dir string, p *api.Params) error {
	data, err := config.MarshalSections(p)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}
	tmp, err := os.CreateTemp(dir, SnapshotFile+".*")
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, SnapshotFile)); err != nil {
		return fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}
	return nil
}

// Load reads the snapshot in dir. If the stored path no longer leads to dir
// (the tree was moved or is read from another working directory) the path
// is rebased so that Dir of the result is dir.
func Load(dir string) (*api.Params, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	sets, err := config.ParseSections(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", dir, err)
	}
	if len(sets) != 1 {
		return nil, fmt.Errorf("load snapshot %s: expected one section, found %d", dir, len(sets))
	}
	p := sets[0]
	if filepath.Clean(p.Dir()) == filepath.Clean(dir) {
		return p, nil
	}
	name := filepath.FromSlash(p.Name())
	clean := filepath.Clean(dir)
	if base, ok := strings.CutSuffix(clean, string(filepath.Separator)+name); ok {
		p.Set(api.KeyPath, base)
	} else if clean == name {
		p.Set(api.KeyPath, ".")
	}
	return p, nil
}

// Find walks root and returns the leaf experiment directories: those holding
// a snapshot without any snapshot-bearing directory below them. Sweep
// parents are therefore skipped.
func Find(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, err := os.Stat(filepath.Join(path, SnapshotFile)); err == nil {
			dirs = append(dirs, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find experiments: %w", err)
	}

	sort.Strings(dirs)
	var leaves []string
	for i, d := range dirs {
		leaf := true
		prefix := d + string(filepath.Separator)
		for _, other := range dirs[i+1:] {
			if strings.HasPrefix(other, prefix) {
				leaf = false
				break
			}
		}
		if leaf {
			leaves = append(leaves, d)
		}
	}
	return leaves, nil
}
