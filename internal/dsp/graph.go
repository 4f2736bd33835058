package dsp

import (
	"fmt"

	"github.com/sunfall-audio/tandem/internal/audio"
)

// StageSpec declares one stage instance in a graph description.
type StageSpec struct {
	ID     string             `json:"id" msgpack:"id"`
	Type   string             `json:"type" msgpack:"type"`
	Params map[string]float64 `json:"params,omitempty" msgpack:"params,omitempty"`
}

// ConnSpec declares a signal connection between two stages.
type ConnSpec struct {
	Src string `json:"src" msgpack:"src"`
	Dst string `json:"dst" msgpack:"dst"`
}

// GraphSpec is the serializable description of a processing graph. It is
// what the patch router accumulates, what travels to a worker process, and
// what status reporting echoes back.
type GraphSpec struct {
	Stages []StageSpec `json:"stages" msgpack:"stages"`
	Conns  []ConnSpec  `json:"conns,omitempty" msgpack:"conns,omitempty"`
}

// DefaultSpec is the boot patch both slots run until the first commit:
// a 220Hz sine through a modest gain.
func DefaultSpec() GraphSpec {
	return GraphSpec{
		Stages: []StageSpec{
			{ID: "osc1", Type: "osc", Params: map[string]float64{"freq": 220, "amp": 0.5}},
			{ID: "out", Type: "gain", Params: map[string]float64{"level": 0.4}},
		},
		Conns: []ConnSpec{{Src: "osc1", Dst: "out"}},
	}
}

type node struct {
	id     string
	stage  Stage
	inputs []int // indices of nodes feeding this one
	hasOut bool  // true if some node consumes this one's output
	out    []float32
}

// Graph is an ordered set of connected stages evaluated one block at a
// time. Stages are resolved from the registry once, at construction.
// A Graph is owned and driven by a single worker; no locking.
type Graph struct {
	nodes []*node
	index map[string]int
	spec  GraphSpec
	inBuf []float32
}

// NewGraph materializes a GraphSpec. It rejects duplicate stage ids,
// unknown types, connections naming unknown stages, and self-loops.
func NewGraph(spec GraphSpec) (*Graph, error) {
	g := &Graph{
		index: make(map[string]int, len(spec.Stages)),
		spec:  spec,
		inBuf: make([]float32, audio.BlockSize),
	}

	for _, ss := range spec.Stages {
		if _, dup := g.index[ss.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, ss.ID)
		}
		stage, err := NewStage(ss.Type)
		if err != nil {
			return nil, err
		}
		for param, value := range ss.Params {
			if err := stage.Apply(param, value); err != nil {
				return nil, fmt.Errorf("stage %q: %w", ss.ID, err)
			}
		}
		g.index[ss.ID] = len(g.nodes)
		g.nodes = append(g.nodes, &node{
			id:    ss.ID,
			stage: stage,
			out:   make([]float32, audio.BlockSize),
		})
	}

	for _, c := range spec.Conns {
		src, ok := g.index[c.Src]
		if !ok {
			return nil, fmt.Errorf("%w: connection src %q", ErrUnknownStage, c.Src)
		}
		dst, ok := g.index[c.Dst]
		if !ok {
			return nil, fmt.Errorf("%w: connection dst %q", ErrUnknownStage, c.Dst)
		}
		if src == dst {
			return nil, fmt.Errorf("%w: %q", ErrSelfLoop, c.Src)
		}
		g.nodes[dst].inputs = append(g.nodes[dst].inputs, src)
		g.nodes[src].hasOut = true
	}

	return g, nil
}

// Produce evaluates every stage in insertion order and writes the mixed
// output of all sink stages (stages feeding nothing) into dst, clipped to
// int16 range. dst must be BlockSize long.
func (g *Graph) Produce(dst []int16) {
	for _, n := range g.nodes {
		in := g.inBuf
		for i := range in {
			in[i] = 0
		}
		for _, src := range n.inputs {
			srcOut := g.nodes[src].out
			for i := range in {
				in[i] += srcOut[i]
			}
		}
		n.stage.Process(in, n.out)
	}

	for i := range dst {
		var mix float64
		for _, n := range g.nodes {
			if !n.hasOut {
				mix += float64(n.out[i])
			}
		}
		scaled := mix * 32767
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		dst[i] = int16(scaled)
	}
}

// Apply sets a parameter on one stage.
func (g *Graph) Apply(stageID, param string, value float64) error {
	i, ok := g.index[stageID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stageID)
	}
	return g.nodes[i].stage.Apply(param, value)
}

// Gate opens or closes one stage's gate.
func (g *Graph) Gate(stageID string, on bool) error {
	i, ok := g.index[stageID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stageID)
	}
	g.nodes[i].stage.Gate(on)
	return nil
}

// Spec returns the description this graph was built from.
func (g *Graph) Spec() GraphSpec {
	return g.spec
}

// Describe returns each stage's schema keyed by stage id.
func (g *Graph) Describe() map[string]StageSchema {
	out := make(map[string]StageSchema, len(g.nodes))
	for _, n := range g.nodes {
		out[n.id] = n.stage.Describe()
	}
	return out
}
