package dsp

import (
	"fmt"
	"math"

	"github.com/sunfall-audio/tandem/internal/audio"
)

// --- osc ---

// osc is a band-unlimited oscillator: sine, saw, or square.
type osc struct {
	freq  float64
	amp   float64
	wave  float64 // 0=sine 1=saw 2=square
	phase float64
}

func newOsc() *osc {
	return &osc{freq: 440, amp: 0.5}
}

func (o *osc) Process(_, out []float32) {
	step := o.freq / audio.SampleRate
	for i := range out {
		var v float64
		switch int(o.wave) {
		case 1:
			v = 2*o.phase - 1
		case 2:
			if o.phase < 0.5 {
				v = 1
			} else {
				v = -1
			}
		default:
			v = math.Sin(2 * math.Pi * o.phase)
		}
		out[i] = float32(o.amp * v)
		o.phase += step
		if o.phase >= 1 {
			o.phase -= 1
		}
	}
}

func (o *osc) Apply(param string, value float64) error {
	switch param {
	case "freq":
		o.freq = clamp(value, 20, 8000)
	case "amp":
		o.amp = clamp(value, 0, 1)
	case "wave":
		o.wave = clamp(value, 0, 2)
	default:
		return fmt.Errorf("%w: osc %q", ErrUnknownParam, param)
	}
	return nil
}

func (o *osc) Gate(bool) {}

func (o *osc) Describe() StageSchema {
	return StageSchema{Type: "osc", Params: []ParamSchema{
		{Name: "freq", Min: 20, Max: 8000, Default: 440},
		{Name: "amp", Min: 0, Max: 1, Default: 0.5},
		{Name: "wave", Min: 0, Max: 2, Default: 0},
	}}
}

// --- noise ---

type noise struct {
	amp   float64
	state uint64
}

func newNoise() *noise {
	return &noise{amp: 0.3, state: 0x9e3779b97f4a7c15}
}

func (n *noise) Process(_, out []float32) {
	for i := range out {
		// xorshift64
		n.state ^= n.state << 13
		n.state ^= n.state >> 7
		n.state ^= n.state << 17
		v := float64(int64(n.state)) / float64(math.MaxInt64)
		out[i] = float32(n.amp * v)
	}
}

func (n *noise) Apply(param string, value float64) error {
	if param != "amp" {
		return fmt.Errorf("%w: noise %q", ErrUnknownParam, param)
	}
	n.amp = clamp(value, 0, 1)
	return nil
}

func (n *noise) Gate(bool) {}

func (n *noise) Describe() StageSchema {
	return StageSchema{Type: "noise", Params: []ParamSchema{
		{Name: "amp", Min: 0, Max: 1, Default: 0.3},
	}}
}

// --- env ---

type envPhase uint8

const (
	envIdle envPhase = iota
	envAttack
	envDecay
	envSustain
	envRelease
)

// env is an ADSR amplitude envelope applied to its input. Its level is
// internal state that must settle during priming before a fresh graph is
// audible.
type env struct {
	attack  float64 // seconds
	decay   float64
	sustain float64 // level 0..1
	release float64

	phase envPhase
	level float64
}

func newEnv() *env {
	return &env{attack: 0.01, decay: 0.1, sustain: 0.7, release: 0.2}
}

func (e *env) Process(in, out []float32) {
	atkStep := 1 / (e.attack*audio.SampleRate + 1)
	decStep := (1 - e.sustain) / (e.decay*audio.SampleRate + 1)
	relStep := e.sustain / (e.release*audio.SampleRate + 1)

	for i := range out {
		switch e.phase {
		case envAttack:
			e.level += atkStep
			if e.level >= 1 {
				e.level = 1
				e.phase = envDecay
			}
		case envDecay:
			e.level -= decStep
			if e.level <= e.sustain {
				e.level = e.sustain
				e.phase = envSustain
			}
		case envRelease:
			e.level -= relStep
			if e.level <= 0 {
				e.level = 0
				e.phase = envIdle
			}
		}
		out[i] = in[i] * float32(e.level)
	}
}

func (e *env) Apply(param string, value float64) error {
	switch param {
	case "attack":
		e.attack = clamp(value, 0.001, 10)
	case "decay":
		e.decay = clamp(value, 0.001, 10)
	case "sustain":
		e.sustain = clamp(value, 0, 1)
	case "release":
		e.release = clamp(value, 0.001, 10)
	default:
		return fmt.Errorf("%w: env %q", ErrUnknownParam, param)
	}
	return nil
}

func (e *env) Gate(on bool) {
	if on {
		e.phase = envAttack
	} else if e.phase != envIdle {
		e.phase = envRelease
	}
}

func (e *env) Describe() StageSchema {
	return StageSchema{Type: "env", Params: []ParamSchema{
		{Name: "attack", Min: 0.001, Max: 10, Default: 0.01},
		{Name: "decay", Min: 0.001, Max: 10, Default: 0.1},
		{Name: "sustain", Min: 0, Max: 1, Default: 0.7},
		{Name: "release", Min: 0.001, Max: 10, Default: 0.2},
	}}
}

// --- filter ---

// filter is a one-pole low-pass. Its z state carries across blocks, which
// is what makes priming meaningful for freshly built graphs.
type filter struct {
	cutoff float64
	coef   float64
	z      float64
}

func newFilter() *filter {
	f := &filter{cutoff: 1000}
	f.updateCoef()
	return f
}

func (f *filter) updateCoef() {
	f.coef = 1 - math.Exp(-2*math.Pi*f.cutoff/audio.SampleRate)
}

func (f *filter) Process(in, out []float32) {
	for i := range out {
		f.z += f.coef * (float64(in[i]) - f.z)
		out[i] = float32(f.z)
	}
}

func (f *filter) Apply(param string, value float64) error {
	if param != "cutoff" {
		return fmt.Errorf("%w: filter %q", ErrUnknownParam, param)
	}
	f.cutoff = clamp(value, 20, 20000)
	f.updateCoef()
	return nil
}

func (f *filter) Gate(bool) {}

func (f *filter) Describe() StageSchema {
	return StageSchema{Type: "filter", Params: []ParamSchema{
		{Name: "cutoff", Min: 20, Max: 20000, Default: 1000},
	}}
}

// --- gain ---

type gain struct {
	level float64
}

func newGain() *gain {
	return &gain{level: 1}
}

func (g *gain) Process(in, out []float32) {
	for i := range out {
		out[i] = in[i] * float32(g.level)
	}
}

func (g *gain) Apply(param string, value float64) error {
	if param != "level" {
		return fmt.Errorf("%w: gain %q", ErrUnknownParam, param)
	}
	g.level = clamp(value, 0, 2)
	return nil
}

func (g *gain) Gate(bool) {}

func (g *gain) Describe() StageSchema {
	return StageSchema{Type: "gain", Params: []ParamSchema{
		{Name: "level", Min: 0, Max: 2, Default: 1},
	}}
}
