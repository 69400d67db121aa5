package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/pkg/api"
)

// CrashLayout is the timestamp embedded in crash report file names.
const CrashLayout = "2006_01_02__15_04_05"

// Outcome is what happened to one repetition.
type Outcome struct {
	Name     string        `json:"name"`
	Rep      int           `json:"rep"`
	Dir      string        `json:"dir"`
	State    api.State     `json:"state"`
	Status   api.RunStatus `json:"status"`
	Resume   int           `json:"resume"`
	Executed int           `json:"executed"`
	Backup   string        `json:"backup,omitempty"`
	Report   string        `json:"report,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Runner drives the iteration loop of single repetitions of one experiment.
type Runner struct {
	Exp    api.Stepper
	Keys   *runlog.Sanitizer
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewRunner returns a runner logging through the global logger.
func NewRunner(exp api.Stepper) *Runner {
	return &Runner{Exp: exp, Keys: &runlog.Sanitizer{}, Logger: log.Logger, Now: time.Now}
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// resumable reports the declared mid-run resumption capability.
func (r *Runner) resumable() (api.Restorer, bool) {
	rs, ok := r.Exp.(api.Restorer)
	return rs, ok && rs.RestoreSupported()
}

// Run executes repetition rep of p, resuming from whatever its log shows.
// A positive rerun forces re-execution after that iteration.
func (r *Runner) Run(ctx context.Context, p *api.Params, rep, rerun int) (out Outcome) {
	start := time.Now()
	out = Outcome{Name: p.Name(), Rep: rep, Dir: layout.Dir(p)}
	defer func() { out.Duration = time.Since(start) }()

	logger := r.Logger.With().Str("exp", out.Name).Int("rep", rep).Logger()
	restorer, resumable := r.resumable()
	path := layout.LogPath(out.Dir, rep)

	plan, err := PlanRepetition(path, ResumeOptions{
		Iterations: p.Iterations(),
		Resumable:  resumable,
		Rerun:      rerun,
		Now:        r.now,
	})
	if err != nil {
		out.Status = api.RunFailed
		out.Err = err
		logger.Error().Err(err).Msg("cannot inspect log")
		return out
	}
	out.State, out.Resume, out.Backup = plan.State, plan.Resume, plan.Backup
	if plan.Skip {
		out.Status = api.RunSkipped
		logger.Debug().Str("state", string(plan.State)).Int("lines", plan.Lines).Msg("nothing to do")
		return out
	}
	if plan.Backup != "" {
		logger.Info().Str("backup", plan.Backup).Int("it", plan.Resume).Msg("forced rerun")
	} else if plan.Resume > 0 {
		logger.Info().Str("state", string(plan.State)).Int("it", plan.Resume).Msg("resuming")
	}

	w, err := runlog.Create(path, plan.Resume > 0)
	if err != nil {
		out.Status = api.RunFailed
		out.Err = err
		logger.Error().Err(err).Msg("cannot open log")
		return out
	}
	defer w.Close()

	env := &api.Env{Params: p, Rep: rep, Dir: out.Dir, Log: logger}
	executed, err := r.loop(ctx, env, w, plan.Resume, restorer, resumable)
	out.Executed = executed
	if err == nil {
		out.Status = api.RunSucceeded
		logger.Debug().Int("executed", executed).Msg("repetition done")
		return out
	}
	out.Err = err

	var herr *HookError
	switch {
	case ctx.Err() != nil:
		// Interrupted: the log is intact and resumes on the next invocation.
		out.Status = api.RunFailed
		logger.Warn().Err(err).Msg("repetition interrupted")
		return out
	case errors.As(err, &herr):
		out.Status = api.RunCrashed
	default:
		out.Status = api.RunFailed
	}
	logger.Error().Err(err).Int("it", plan.Resume+executed).Msg("repetition aborted")

	report, rerr := r.writeCrashReport(out.Dir, rep, err)
	out.Report = report
	if rerr != nil {
		logger.Error().Err(rerr).Msg("cannot write crash report")
	}
	if serr := w.WriteSentinel(); serr != nil {
		out.Err = errors.Join(out.Err, serr)
	}
	return out
}

// loop runs reset, restore and the iterations [from, iterations). It
// returns the number of iterations written to the log.
func (r *Runner) loop(ctx context.Context, env *api.Env, w *runlog.Writer, from int, restorer api.Restorer, resumable bool) (int, error) {
	if rs, ok := r.Exp.(api.Resetter); ok {
		if err := guard("reset", -1, func() error { return rs.Reset(ctx, env) }); err != nil {
			return 0, err
		}
	}
	if from > 0 && resumable {
		if err := guard("restore", from, func() error { return restorer.RestoreState(ctx, env, from) }); err != nil {
			return 0, err
		}
	}

	executed := 0
	for it := from; it < env.Params.Iterations(); it++ {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		var res api.Result
		err := guard("step", it, func() error {
			var err error
			res, err = r.Exp.Iterate(ctx, env, it)
			return err
		})
		if err != nil {
			return executed, err
		}

		if resumable {
			if err := guard("save", it, func() error { return restorer.SaveState(ctx, env, it) }); err != nil {
				env.Log.Warn().Err(err).Int("it", it).Msg("state not saved")
			}
		}

		if res == nil {
			res = api.Result{}
		}
		if _, ok := res["iteration"]; !ok {
			res["iteration"] = it
		}
		if err := w.WriteLine(runlog.Encode(r.Keys.Sanitize(res, env.Log))); err != nil {
			return executed, err
		}
		executed++
	}
	return executed, nil
}

// guard calls fn and converts both returned errors and panics into a
// HookError carrying the stack at the point of capture.
func guard(hook string, it int, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &HookError{Hook: hook, Iteration: it, Err: fmt.Errorf("panic: %v", v), Stack: debug.Stack()}
		}
	}()
	if err := fn(); err != nil {
		return &HookError{Hook: hook, Iteration: it, Err: err, Stack: debug.Stack()}
	}
	return nil
}

// writeCrashReport stores the failure message and stack trace next to the
// log of the repetition.
func (r *Runner) writeCrashReport(dir string, rep int, err error) (string, error) {
	base := filepath.Join(dir, fmt.Sprintf("%d.exception-%s", rep, r.now().Format(CrashLayout)))

	stack := debug.Stack()
	var herr *HookError
	if errors.As(err, &herr) && herr.Stack != nil {
		stack = herr.Stack
	}
	f, path, werr := runlog.CreateUnique(base, ".stderr")
	if werr != nil {
		return "", fmt.Errorf("crash report: %w", werr)
	}
	_, werr = fmt.Fprintf(f, "\nSuite caught exception: %v\ntrace\n%s\n", err, stack)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("crash report: %w", werr)
	}
	return path, nil
}
