package supervisor

import (
	"context"
	"time"

	"github.com/sunfall-audio/tandem/internal/audio"
)

// Consumer is the real-time output side: once per period it pops a block
// from whichever slot the active pointer names and emits it downstream.
// It never blocks and never sees an error: an empty ring yields one block
// of silence, counted as an underrun. Both silence edges are masked with
// a short gain ramp; the fade-out reuses the last played block so the cut
// lands at the level the listener last heard.
//
// The consumer is the sole popper of BOTH rings: the inactive slot's ring
// is trimmed to a small cushion of recent blocks each period, so a promoted
// slot has fresh mirrored audio ready at the flip instead of minutes-old
// leftovers.
type Consumer struct {
	sup     *Supervisor
	frameCh chan []int16

	frame     []int16
	last      []int16 // most recent played block, source for the fade-out
	wasSilent bool
}

// NewConsumer wires a consumer to the supervisor's slots.
func NewConsumer(sup *Supervisor) *Consumer {
	return &Consumer{
		sup:     sup,
		frameCh: make(chan []int16, 16),
		frame:   make([]int16, 0, audio.MonitorSamples),
	}
}

// Frames returns the channel of outgoing 20ms monitor frames.
func (c *Consumer) Frames() <-chan []int16 {
	return c.frameCh
}

// Run ticks once per block period. Blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.frameCh)

	ticker := time.NewTicker(audio.BlockDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.period()
		}
	}
}

func (c *Consumer) period() {
	// The pointer is sampled exactly once per period: the flip takes
	// effect at a block boundary, never mid-block.
	act := c.sup.ActiveIndex()
	m := c.sup.metrics

	var samples []int16
	if r := c.sup.slots[act].Ring(); r != nil {
		if blk, ok := r.TryPop(); ok {
			samples = blk.Samples
			m.blocksPlayed.Add(1)
			if c.wasSilent {
				samples = audio.RampGain(samples, 0, 1)
			}
			c.wasSilent = false
			c.last = blk.Samples
		}
	}
	if samples == nil {
		m.underruns.Add(1)
		if !c.wasSilent && c.last != nil {
			// First dry period after audible output: fade the last block
			// out instead of cutting to silence.
			samples = audio.RampGain(c.last, 1, 0)
		} else {
			samples = audio.Silence().Samples
		}
		c.wasSilent = true
	}

	c.frame = append(c.frame, samples...)
	if len(c.frame) >= audio.MonitorSamples {
		out := make([]int16, audio.MonitorSamples)
		copy(out, c.frame)
		c.frame = c.frame[:0]
		select {
		case c.frameCh <- out:
		default:
			// monitor too slow, drop the frame to keep output real-time
		}
	}

	// Trim the standby's ring to a cushion of its freshest blocks.
	cushion := c.sup.cfg.RingCapacity / 2
	if r := c.sup.slots[1-act].Ring(); r != nil {
		for r.Len() > cushion {
			if _, ok := r.TryPop(); !ok {
				break
			}
		}
	}
}
