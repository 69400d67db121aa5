package core

import (
	"errors"
	"fmt"
)

// ErrNoExperiments is returned when a submission holds no parameter sets.
var ErrNoExperiments = errors.New("no experiments to run")

// ConfigError rejects a submission before any directory is created.
type ConfigError struct {
	Name   string
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	name := e.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("parameter set %s: %s %s", name, e.Key, e.Reason)
}

// HookError is a failure raised by a user hook. Stack is the goroutine
// stack at the point the failure was caught.
type HookError struct {
	Hook      string
	Iteration int
	Err       error
	Stack     []byte
}

func (e *HookError) Error() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("%s hook at iteration %d: %v", e.Hook, e.Iteration, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
