// Package api contains the public types for experiment authors: parameter
// sets, hook interfaces and results.
package api

// Reserved parameter keys understood by the suite. Every other key is opaque.
const (
	KeyName        = "name"
	KeyPath        = "path"
	KeyIterations  = "iterations"
	KeyRepetitions = "repetitions"
	KeyMode        = "mode"
)

// Expansion modes accepted in the mode key.
const (
	ModeGrid   = "grid"
	ModeList   = "list"
	ModeSingle = "single"
)

// Result is what one iteration reports; it becomes one log line.
type Result map[string]any

// State is the resumption state of a repetition, derived from its log file.
type State string

const (
	StateFresh    State = "fresh"
	StateComplete State = "complete"
	StateCrashed  State = "crashed"
	StatePartial  State = "partial"
	StateRerun    State = "rerun"
)

// RunStatus is the outcome of dispatching one repetition.
type RunStatus string

const (
	RunSkipped   RunStatus = "skipped"
	RunSucceeded RunStatus = "succeeded"
	RunCrashed   RunStatus = "crashed"
	RunFailed    RunStatus = "failed"
)
