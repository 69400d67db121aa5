package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/lefterav/expsuite/pkg/api"
)

// counter reports its position; useful to try out sweeps and layouts.
type counter struct{}

func (counter) Iterate(ctx context.Context, env *api.Env, it int) (api.Result, error) {
	return api.Result{"iteration": it, "repetition": env.Rep}, nil
}

// walk is a seeded random walk with step size "step" that can resume in the
// middle of a repetition from its saved state.
type walk struct {
	rng *rand.Rand
	pos float64
	max float64
}

type walkState struct {
	Seed  int64   `json:"seed"`
	Draws int     `json:"draws"`
	Pos   float64 `json:"pos"`
	Max   float64 `json:"max"`
}

func (w *walk) seed(env *api.Env) int64 {
	base, _ := env.Params.Int("seed")
	return int64(base)*1000 + int64(env.Rep)
}

func (w *walk) Reset(ctx context.Context, env *api.Env) error {
	w.rng = rand.New(rand.NewSource(w.seed(env)))
	w.pos, w.max = 0, 0
	return nil
}

func (w *walk) Iterate(ctx context.Context, env *api.Env, it int) (api.Result, error) {
	step, err := env.Params.Float("step")
	if err != nil {
		return nil, err
	}
	if w.rng.Intn(2) == 0 {
		w.pos -= step
	} else {
		w.pos += step
	}
	w.max = math.Max(w.max, math.Abs(w.pos))
	return api.Result{"iteration": it, "position": w.pos, "max distance": w.max}, nil
}

func (w *walk) RestoreSupported() bool { return true }

func (w *walk) stateFile(env *api.Env, it int) string {
	return fmt.Sprintf("%d.walk-%d.json", env.Rep, it)
}

func (w *walk) SaveState(ctx context.Context, env *api.Env, it int) error {
	f, err := env.Create(w.stateFile(env, it))
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(walkState{Seed: w.seed(env), Draws: it + 1, Pos: w.pos, Max: w.max})
}

func (w *walk) RestoreState(ctx context.Context, env *api.Env, it int) error {
	data, err := os.ReadFile(env.Path(w.stateFile(env, it-1)))
	if err != nil {
		return err
	}
	var s walkState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	// Replay the generator to the saved position.
	w.rng = rand.New(rand.NewSource(s.Seed))
	for i := 0; i < s.Draws; i++ {
		w.rng.Intn(2)
	}
	w.pos, w.max = s.Pos, s.Max
	return nil
}
