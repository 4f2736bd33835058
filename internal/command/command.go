// Package command defines the control messages fanned out to worker slots.
package command

// Kind discriminates the command variants.
type Kind uint8

const (
	// SetParam assigns a parameter value on a target stage.
	SetParam Kind = iota
	// Gate turns a target stage's gate on or off.
	Gate
)

// Target selects which slots receive a command.
type Target uint8

const (
	// TargetAll fans the command out to both slots. This is the normal
	// path: it is what keeps the hot standby's state a mirror of the
	// primary's and makes promotion inaudible.
	TargetAll Target = iota
	// TargetActive delivers only to the currently active slot.
	TargetActive
)

// Command is a control message addressed to one stage of the processing
// graph. Commands are idempotent by replacement: the latest value for a
// given stage/param wins, and there is no ordering dependency across
// different targets.
type Command struct {
	Kind  Kind    `msgpack:"kind"`
	Stage string  `msgpack:"stage"`
	Param string  `msgpack:"param,omitempty"`
	Value float64 `msgpack:"value,omitempty"`
	On    bool    `msgpack:"on,omitempty"`
}

// Param builds a SetParam command.
func Param(stage, param string, value float64) Command {
	return Command{Kind: SetParam, Stage: stage, Param: param, Value: value}
}

// GateOn builds a Gate command.
func GateOn(stage string, on bool) Command {
	return Command{Kind: Gate, Stage: stage, On: on}
}
