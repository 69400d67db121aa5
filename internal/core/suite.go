package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lefterav/expsuite/internal/expand"
	"github.com/lefterav/expsuite/internal/journal"
	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/pkg/api"
)

// Options control one invocation of a batch.
type Options struct {
	Workers int

	// Delete clears existing experiment directories before running.
	Delete bool

	// Rerun forces re-execution after this iteration; 0 disables it.
	Rerun int

	Executor Executor
	Journal  *journal.Store
	Logger   *zerolog.Logger
}

// Run expands sets, lays out their directories and dispatches every
// repetition. Configuration errors reject the whole batch before anything
// is written. Expansion and filesystem errors only drop the affected sets;
// they are joined into the returned error next to a usable Report.
func Run(ctx context.Context, sets []*api.Params, opts Options) (Report, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if len(sets) == 0 {
		return Report{}, ErrNoExperiments
	}
	if opts.Executor == nil {
		return Report{}, errors.New("no executor configured")
	}
	if opts.Rerun < 0 {
		return Report{}, fmt.Errorf("rerun target %d must not be negative", opts.Rerun)
	}
	for _, p := range sets {
		if err := checkPresent(p); err != nil {
			return Report{}, err
		}
	}

	expansions, expandErr := expand.Batch(sets)
	if expandErr != nil {
		logger.Error().Err(expandErr).Msg("some parameter sets were not expanded")
	}
	if err := validateChildren(expansions); err != nil {
		return Report{}, err
	}

	ready, layoutErr := prepare(expansions, opts.Delete)
	if layoutErr != nil {
		logger.Error().Err(layoutErr).Msg("some experiment directories could not be prepared")
	}

	items := Enumerate(ready)
	d := NewDispatcher(opts.Executor)
	if opts.Workers > 0 {
		d.Workers = opts.Workers
	}
	d.Rerun = opts.Rerun
	d.Logger = logger

	runID := ""
	if opts.Journal != nil {
		id, err := opts.Journal.BeginRun(ctx, d.Workers, len(items))
		if err != nil {
			logger.Warn().Err(err).Msg("journal unavailable")
		} else {
			runID = id
			d.OnOutcome = func(o Outcome) {
				if err := opts.Journal.Record(ctx, runID, entry(o)); err != nil {
					logger.Warn().Err(err).Msg("journal record failed")
				}
			}
		}
	}

	logger.Info().Int("sets", len(ready)).Int("items", len(items)).Int("workers", d.Workers).Msg("dispatching")
	report, dispatchErr := d.Dispatch(ctx, items)

	if runID != "" {
		if err := opts.Journal.FinishRun(ctx, runID); err != nil {
			logger.Warn().Err(err).Msg("journal finish failed")
		}
	}
	return report, errors.Join(expandErr, layoutErr, dispatchErr)
}

// validateChildren checks every concrete set and rejects two sets sharing
// one directory.
func validateChildren(expansions []expand.Expansion) error {
	seen := make(map[string]bool)
	for _, p := range expand.Children(expansions) {
		if err := Validate(p); err != nil {
			return err
		}
		dir := layout.Dir(p)
		if seen[dir] {
			return &ConfigError{Name: p.Name(), Key: api.KeyName, Reason: fmt.Sprintf("maps to directory %s used by another parameter set", dir)}
		}
		seen[dir] = true
	}
	return nil
}

// prepare writes the directories and snapshots. A sweep's source set also
// gets its snapshot in the parent directory. Sets whose directory cannot be
// prepared are left out.
func prepare(expansions []expand.Expansion, clean bool) ([]*api.Params, error) {
	var ready []*api.Params
	var errs []error
	for _, e := range expansions {
		if e.Swept {
			if _, err := layout.Prepare(e.Source, clean); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		for _, p := range e.Children {
			if _, err := layout.Prepare(p, clean); err != nil {
				errs = append(errs, err)
				continue
			}
			ready = append(ready, p)
		}
	}
	return ready, errors.Join(errs...)
}

func entry(o Outcome) journal.Entry {
	e := journal.Entry{
		Name:     o.Name,
		Rep:      o.Rep,
		State:    string(o.State),
		Status:   string(o.Status),
		Resume:   o.Resume,
		Executed: o.Executed,
		Crashed:  o.Status == api.RunCrashed,
		Duration: o.Duration,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// LoadTree reads back every leaf experiment below root from its snapshot.
func LoadTree(root string) ([]*api.Params, error) {
	dirs, err := layout.Find(root)
	if err != nil {
		return nil, err
	}
	var sets []*api.Params
	for _, dir := range dirs {
		p, err := layout.Load(dir)
		if err != nil {
			return nil, err
		}
		sets = append(sets, p)
	}
	return sets, nil
}
