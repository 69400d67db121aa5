package api

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Env is handed to every hook. Dir is the experiment directory of the
// repetition; hooks resolve relative files against it instead of relying on
// the process working directory, which is shared between concurrent workers.
type Env struct {
	Params *Params
	Rep    int
	Dir    string
	Log    zerolog.Logger
}

// Path joins elem onto the experiment directory.
func (e *Env) Path(elem ...string) string {
	return filepath.Join(append([]string{e.Dir}, elem...)...)
}

// Create creates or truncates a file relative to the experiment directory.
func (e *Env) Create(name string) (*os.File, error) {
	return os.Create(e.Path(name))
}

// Open opens a file relative to the experiment directory.
func (e *Env) Open(name string) (*os.File, error) {
	return os.Open(e.Path(name))
}

// Stepper is the one mandatory hook: run iteration it and report its results.
type Stepper interface {
	Iterate(ctx context.Context, env *Env, it int) (Result, error)
}

// Resetter is optionally implemented to prepare a repetition before its
// first executed iteration, including on resume.
type Resetter interface {
	Reset(ctx context.Context, env *Env) error
}

// Restorer is optionally implemented for mid-run resumption. The capability
// is only used when RestoreSupported returns true; otherwise an interrupted
// repetition restarts from iteration 0.
type Restorer interface {
	RestoreSupported() bool
	// SaveState persists whatever is needed to continue after iteration it.
	SaveState(ctx context.Context, env *Env, it int) error
	// RestoreState rebuilds the state of having completed iterations [0, it).
	RestoreState(ctx context.Context, env *Env, it int) error
}

// Funcs adapts plain functions to the hook interfaces. OnStep is required.
type Funcs struct {
	OnStep    func(ctx context.Context, env *Env, it int) (Result, error)
	OnReset   func(ctx context.Context, env *Env) error
	OnSave    func(ctx context.Context, env *Env, it int) error
	OnRestore func(ctx context.Context, env *Env, it int) error
	Resumable bool
}

func (f Funcs) Iterate(ctx context.Context, env *Env, it int) (Result, error) {
	return f.OnStep(ctx, env, it)
}

func (f Funcs) Reset(ctx context.Context, env *Env) error {
	if f.OnReset == nil {
		return nil
	}
	return f.OnReset(ctx, env)
}

func (f Funcs) RestoreSupported() bool { return f.Resumable }

func (f Funcs) SaveState(ctx context.Context, env *Env, it int) error {
	if f.OnSave == nil {
		return nil
	}
	return f.OnSave(ctx, env, it)
}

func (f Funcs) RestoreState(ctx context.Context, env *Env, it int) error {
	if f.OnRestore == nil {
		return nil
	}
	return f.OnRestore(ctx, env, it)
}
