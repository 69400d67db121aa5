package core

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/pkg/api"
)

// ResumeOptions are the inputs of the resumption state machine besides the
// log file itself.
type ResumeOptions struct {
	Iterations int

	// Resumable is the declared mid-run resumption capability.
	Resumable bool

	// Rerun forces re-execution after iteration Rerun; 0 disables it.
	Rerun int
	Now   func() time.Time
}

// Plan is the decision for one repetition. When Skip is false the runner
// executes iterations [Resume, iterations).
type Plan struct {
	State  api.State
	Resume int
	Skip   bool

	// Lines is the number of valid records found before any truncation.
	Lines  int
	Backup string
}

// PlanRepetition inspects the log at path and brings it into the shape the
// runner expects: removed when restarting from 0, stripped of the sentinel
// and any torn line when resuming, truncated on forced rerun.
func PlanRepetition(path string, opts ResumeOptions) (Plan, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c, err := runlog.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Plan{State: api.StateFresh}, nil
	}
	if err != nil {
		return Plan{}, fmt.Errorf("read log: %w", err)
	}
	n := len(c.Lines)

	if opts.Rerun > 0 {
		plan := Plan{State: api.StateRerun, Lines: n}
		if n < opts.Rerun {
			plan.Skip = true
			return plan, nil
		}
		if plan.Backup, err = runlog.Backup(path, now()); err != nil {
			return Plan{}, err
		}
		if !opts.Resumable {
			return plan, runlog.Remove(path)
		}
		plan.Resume = min(opts.Rerun, opts.Iterations)
		return plan, runlog.Rewrite(path, c.Lines[:plan.Resume])
	}

	if !c.Sentinel && n >= opts.Iterations {
		return Plan{State: api.StateComplete, Resume: opts.Iterations, Skip: true, Lines: n}, nil
	}

	plan := Plan{State: api.StatePartial, Lines: n}
	if c.Sentinel {
		plan.State = api.StateCrashed
	}
	if !opts.Resumable {
		return plan, runlog.Remove(path)
	}
	plan.Resume = min(n, opts.Iterations)
	if c.Sentinel || c.Torn {
		if err := runlog.Rewrite(path, c.Lines[:plan.Resume]); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}
