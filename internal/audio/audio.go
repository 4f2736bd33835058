package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	BlockSize     = 240                  // samples per 5ms production period
	BlockDuration = 5 * time.Millisecond // one worker period
	BlockBytes    = BlockSize * 2        // bytes per block (int16 = 2 bytes)

	// Monitor outputs aggregate four blocks into one 20ms frame,
	// the opus frame size the stream encoders expect.
	MonitorBlocks   = 4
	MonitorSamples  = BlockSize * MonitorBlocks
	MonitorDuration = BlockDuration * MonitorBlocks
)

// Block is one period's worth of samples. Immutable once pushed into a ring.
type Block struct {
	Seq     uint64  `msgpack:"seq"`
	Samples []int16 `msgpack:"samples"`
}

var silence = &Block{Samples: make([]int16, BlockSize)}

// Silence returns the shared all-zero block substituted on underrun.
// Callers must not modify its samples.
func Silence() *Block {
	return silence
}
