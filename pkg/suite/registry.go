package suite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lefterav/expsuite/pkg/api"
)

// Factory returns a fresh instance of an experiment. It is called once per
// repetition.
type Factory func() api.Stepper

type Registry struct {
	experiments map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{experiments: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) {
	r.experiments[name] = f
}

// Get returns the named experiment. An empty name selects the only
// registered experiment.
func (r *Registry) Get(name string) (Factory, error) {
	if name == "" {
		if len(r.experiments) == 1 {
			for _, f := range r.experiments {
				return f, nil
			}
		}
		return nil, fmt.Errorf("choose an experiment with --experiment: %s", strings.Join(r.Names(), ", "))
	}
	f, ok := r.experiments[name]
	if !ok {
		return nil, fmt.Errorf("experiment not registered: %s", name)
	}
	return f, nil
}

// Names lists the registered experiments in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.experiments))
	for n := range r.experiments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
