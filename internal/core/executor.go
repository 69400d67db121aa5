package core

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/internal/worker"
	"github.com/lefterav/expsuite/pkg/api"
)

// Factory returns a fresh experiment instance. Every repetition gets its
// own instance so that hook state never leaks between repetitions.
type Factory func() api.Stepper

// InProcess runs repetitions as goroutines of the current process.
type InProcess struct {
	New    Factory
	Keys   *runlog.Sanitizer
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewInProcess shares one key sanitizer across all repetitions so that
// each offending result key is reported once per run.
func NewInProcess(f Factory, logger zerolog.Logger) *InProcess {
	return &InProcess{New: f, Keys: &runlog.Sanitizer{}, Logger: logger, Now: time.Now}
}

func (e *InProcess) Execute(ctx context.Context, item WorkItem, rerun int) Outcome {
	keys := e.Keys
	if keys == nil {
		keys = &runlog.Sanitizer{}
	}
	r := &Runner{Exp: e.New(), Keys: keys, Logger: e.Logger, Now: e.Now}
	return r.Run(ctx, item.Params, item.Rep, rerun)
}

// Subprocess runs every repetition in its own worker process, started in
// the experiment directory. The worker reads its parameters back from the
// snapshot.
type Subprocess struct {
	Command worker.Command
}

func (e *Subprocess) Execute(ctx context.Context, item WorkItem, rerun int) Outcome {
	start := time.Now()
	dir := layout.Dir(item.Params)
	failed := func(err error) Outcome {
		return Outcome{
			Name:     item.Params.Name(),
			Rep:      item.Rep,
			Dir:      dir,
			Status:   api.RunFailed,
			Err:      err,
			Duration: time.Since(start),
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return failed(err)
	}
	resp, err := worker.Call(ctx, e.Command, worker.Request{Dir: abs, Rep: item.Rep, Rerun: rerun})
	if err != nil {
		return failed(err)
	}
	o := fromResponse(resp)
	o.Dir = dir
	if o.Name == "" {
		o.Name = item.Params.Name()
	}
	return o
}

// ServeWorker is the worker side of Subprocess: it reads one request from
// in, runs the repetition with a fresh instance from newExp and writes the
// outcome to out.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, newExp Factory, logger zerolog.Logger) error {
	return worker.Handle(ctx, in, out, func(ctx context.Context, req worker.Request) worker.Response {
		p, err := layout.Load(req.Dir)
		if err != nil {
			return worker.Response{Rep: req.Rep, Status: string(api.RunFailed), Error: err.Error()}
		}
		r := &Runner{Exp: newExp(), Keys: &runlog.Sanitizer{}, Logger: logger, Now: time.Now}
		return toResponse(r.Run(ctx, p, req.Rep, req.Rerun))
	})
}

func toResponse(o Outcome) worker.Response {
	resp := worker.Response{
		Name:       o.Name,
		Rep:        o.Rep,
		State:      string(o.State),
		Status:     string(o.Status),
		Resume:     o.Resume,
		Executed:   o.Executed,
		Backup:     o.Backup,
		Report:     o.Report,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}

func fromResponse(resp worker.Response) Outcome {
	o := Outcome{
		Name:     resp.Name,
		Rep:      resp.Rep,
		State:    api.State(resp.State),
		Status:   api.RunStatus(resp.Status),
		Resume:   resp.Resume,
		Executed: resp.Executed,
		Backup:   resp.Backup,
		Report:   resp.Report,
		Duration: time.Duration(resp.DurationMs) * time.Millisecond,
	}
	if resp.Error != "" {
		o.Err = errors.New(resp.Error)
	}
	return o
}
