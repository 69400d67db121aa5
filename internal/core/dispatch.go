package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lefterav/expsuite/pkg/api"
)

// WorkItem is one repetition of one concrete parameter set. Index is its
// position in enumeration order.
type WorkItem struct {
	Index  int
	Params *api.Params
	Rep    int
}

// Enumerate lists every (set, repetition) pair, sets in order and
// repetitions ascending.
func Enumerate(sets []*api.Params) []WorkItem {
	var items []WorkItem
	for _, p := range sets {
		for rep := 0; rep < p.Repetitions(); rep++ {
			items = append(items, WorkItem{Index: len(items), Params: p, Rep: rep})
		}
	}
	return items
}

// Executor runs one work item to completion. Implementations never return
// early on a hook failure; it is reported in the Outcome.
type Executor interface {
	Execute(ctx context.Context, item WorkItem, rerun int) Outcome
}

// Report holds the outcomes of a dispatch in enumeration order.
type Report struct {
	Outcomes []Outcome
	Stats    Stats
}

// Crashed returns the outcomes whose repetition ended in the sentinel.
func (r Report) Crashed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == api.RunCrashed {
			out = append(out, o)
		}
	}
	return out
}

// Dispatcher runs work items under bounded parallelism. Items share
// nothing; a failing item never cancels or delays its siblings.
type Dispatcher struct {
	Workers int
	Exec    Executor
	Rerun   int
	Metrics *Metrics
	Logger  zerolog.Logger

	// OnOutcome, when set, is called for every finished item. Calls are
	// serialized.
	OnOutcome func(Outcome)
}

// NewDispatcher creates a dispatcher with one worker per CPU.
func NewDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{Workers: runtime.NumCPU(), Exec: exec, Metrics: NewMetrics(), Logger: log.Logger}
}

// Dispatch blocks until every item has finished. The returned error joins
// the failures that could not be contained in a crash report.
func (d *Dispatcher) Dispatch(ctx context.Context, items []WorkItem) (Report, error) {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	outcomes := make([]Outcome, len(items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, item := range items {
		wg.Add(1)
		go func(i int, it WorkItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			o := d.Exec.Execute(ctx, it, d.Rerun)
			metrics.Record(o)

			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = o
			if d.OnOutcome != nil {
				d.OnOutcome(o)
			}
		}(i, item)
	}

	wg.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Status == api.RunFailed && o.Err != nil {
			errs = append(errs, fmt.Errorf("%s rep %d: %w", o.Name, o.Rep, o.Err))
		}
	}
	report := Report{Outcomes: outcomes, Stats: metrics.GetStats()}
	d.Logger.Info().
		Int64("succeeded", report.Stats.Succeeded).
		Int64("skipped", report.Stats.Skipped).
		Int64("crashed", report.Stats.Crashed).
		Int64("failed", report.Stats.Failed).
		Msg("dispatch finished")
	return report, errors.Join(errs...)
}
