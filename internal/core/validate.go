package core

import (
	"github.com/lefterav/expsuite/pkg/api"
)

var reservedKeys = []string{api.KeyName, api.KeyPath, api.KeyIterations, api.KeyRepetitions}

// checkPresent verifies that the four reserved keys are set.
func checkPresent(p *api.Params) error {
	for _, k := range reservedKeys {
		if !p.Has(k) {
			return &ConfigError{Name: p.Name(), Key: k, Reason: "is required"}
		}
	}
	return nil
}

// Validate checks a concrete parameter set: reserved keys present, name
// and path strings, iterations and repetitions positive integers.
func Validate(p *api.Params) error {
	if err := checkPresent(p); err != nil {
		return err
	}
	if _, err := p.String(api.KeyName); err != nil || p.Name() == "" {
		return &ConfigError{Name: p.Name(), Key: api.KeyName, Reason: "must be a non-empty string"}
	}
	if _, err := p.String(api.KeyPath); err != nil {
		return &ConfigError{Name: p.Name(), Key: api.KeyPath, Reason: "must be a string"}
	}
	for _, k := range []string{api.KeyIterations, api.KeyRepetitions} {
		n, err := p.Int(k)
		if err != nil || n < 1 {
			return &ConfigError{Name: p.Name(), Key: k, Reason: "must be a positive integer"}
		}
	}
	return nil
}
