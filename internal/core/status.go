package core

import (
	"errors"
	"io/fs"

	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/pkg/api"
)

// RepProgress is the on-disk state of one repetition.
type RepProgress struct {
	Rep     int
	Lines   int
	Percent int
	Crashed bool
	Torn    bool
}

// Progress summarizes the repetitions of one experiment directory.
type Progress struct {
	Name string
	Dir  string
	Reps []RepProgress
}

// Percent is the mean completion over all repetitions.
func (p Progress) Percent() int {
	if len(p.Reps) == 0 {
		return 0
	}
	total := 0
	for _, r := range p.Reps {
		total += r.Percent
	}
	return total / len(p.Reps)
}

// Crashed reports whether any repetition ended in the sentinel.
func (p Progress) Crashed() bool {
	for _, r := range p.Reps {
		if r.Crashed {
			return true
		}
	}
	return false
}

// Inspect reads the logs of every repetition of sets without modifying them.
func Inspect(sets []*api.Params) ([]Progress, error) {
	out := make([]Progress, 0, len(sets))
	for _, p := range sets {
		pr := Progress{Name: p.Name(), Dir: layout.Dir(p)}
		iterations := p.Iterations()
		for rep := 0; rep < p.Repetitions(); rep++ {
			rp := RepProgress{Rep: rep}
			c, err := runlog.Read(layout.LogPath(pr.Dir, rep))
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				return nil, err
			default:
				rp.Lines, rp.Crashed, rp.Torn = len(c.Lines), c.Sentinel, c.Torn
				if iterations > 0 {
					rp.Percent = min(100, 100*rp.Lines/iterations)
				}
			}
			pr.Reps = append(pr.Reps, rp)
		}
		out = append(out, pr)
	}
	return out, nil
}
