package dsp

import (
	"errors"
	"sort"
	"testing"

	"github.com/sunfall-audio/tandem/internal/audio"
)

func TestRegistry(t *testing.T) {
	types := Types()
	if !sort.StringsAreSorted(types) {
		t.Errorf("Types() not sorted: %v", types)
	}
	for _, typ := range []string{"osc", "noise", "env", "filter", "gain"} {
		if !KnownType(typ) {
			t.Errorf("KnownType(%q) = false, want true", typ)
		}
		s, err := NewStage(typ)
		if err != nil {
			t.Errorf("NewStage(%q): %v", typ, err)
		}
		if got := s.Describe().Type; got != typ {
			t.Errorf("NewStage(%q).Describe().Type = %q", typ, got)
		}
	}
	if KnownType("theremin") {
		t.Error("KnownType should reject unregistered types")
	}
	if _, err := NewStage("theremin"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("NewStage unknown type = %v, want ErrUnknownType", err)
	}
}

func TestApplyClampsToSchema(t *testing.T) {
	o := newOsc()
	if err := o.Apply("freq", 100000); err != nil {
		t.Fatal(err)
	}
	if o.freq != 8000 {
		t.Errorf("freq clamped to %v, want 8000", o.freq)
	}
	if err := o.Apply("amp", -3); err != nil {
		t.Fatal(err)
	}
	if o.amp != 0 {
		t.Errorf("amp clamped to %v, want 0", o.amp)
	}
}

func TestNoiseDeterministic(t *testing.T) {
	a, b := newNoise(), newNoise()
	outA := make([]float32, audio.BlockSize)
	outB := make([]float32, audio.BlockSize)
	a.Process(nil, outA)
	b.Process(nil, outB)
	for i := range outA {
		if outA[i] != outB[i] {
			t.Fatalf("Noise streams diverge at %d", i)
		}
	}
	var nonzero bool
	for _, v := range outA {
		if v != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Error("Noise produced all zeros")
	}
}

func TestFilterSettlesToDC(t *testing.T) {
	f := newFilter()
	in := make([]float32, audio.BlockSize)
	out := make([]float32, audio.BlockSize)
	for i := range in {
		in[i] = 1
	}

	// A constant input through a low-pass converges toward the input level.
	for block := 0; block < 20; block++ {
		f.Process(in, out)
	}
	if got := out[len(out)-1]; got < 0.99 {
		t.Errorf("Filter settled at %v, want near 1", got)
	}
}

func TestEnvGateLifecycle(t *testing.T) {
	e := newEnv()
	e.Apply("attack", 0.001)
	e.Apply("release", 0.001)
	in := make([]float32, audio.BlockSize)
	out := make([]float32, audio.BlockSize)
	for i := range in {
		in[i] = 1
	}

	e.Gate(true)
	e.Process(in, out)
	if out[len(out)-1] == 0 {
		t.Error("Envelope stayed silent after gate on")
	}

	e.Gate(false)
	for block := 0; block < 20; block++ {
		e.Process(in, out)
	}
	if got := out[len(out)-1]; got != 0 {
		t.Errorf("Envelope level %v after release, want 0", got)
	}

	// Gate off while idle stays idle
	e.Gate(false)
	if e.phase != envIdle {
		t.Errorf("Gate off while idle moved phase to %d", e.phase)
	}
}
