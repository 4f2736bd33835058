// Package dsp implements the processing-graph capability the workers drive:
// a registry of stage types behind one produce/apply/describe interface, and
// a graph that evaluates connected stages one block at a time.
package dsp

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors shared by graph construction and patch-session validation.
var (
	ErrDuplicateStage = errors.New("dsp: duplicate stage id")
	ErrUnknownStage   = errors.New("dsp: unknown stage id")
	ErrUnknownType    = errors.New("dsp: unknown stage type")
	ErrUnknownParam   = errors.New("dsp: unknown parameter")
	ErrSelfLoop       = errors.New("dsp: connection is a self-loop")
)

// ParamSchema describes one settable parameter.
type ParamSchema struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// StageSchema describes a stage type: its name and parameter ranges.
// Used for validation and status reporting only, never by the audio path.
type StageSchema struct {
	Type   string        `json:"type"`
	Params []ParamSchema `json:"params"`
}

// Stage is the uniform capability every signal-processing stage exposes.
// Process reads one block of input samples and writes one block of output;
// generator stages ignore their input. Implementations are driven by a
// single worker goroutine and need no internal locking.
type Stage interface {
	Process(in, out []float32)
	Apply(param string, value float64) error
	Gate(on bool)
	Describe() StageSchema
}

var registry = map[string]func() Stage{
	"osc":    func() Stage { return newOsc() },
	"noise":  func() Stage { return newNoise() },
	"env":    func() Stage { return newEnv() },
	"filter": func() Stage { return newFilter() },
	"gain":   func() Stage { return newGain() },
}

// NewStage instantiates a registered stage type with default parameters.
func NewStage(typ string) (Stage, error) {
	mk, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return mk(), nil
}

// KnownType reports whether typ is a registered stage type.
func KnownType(typ string) bool {
	_, ok := registry[typ]
	return ok
}

// Types returns the registered stage type names, sorted.
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// clamp bounds v to [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
