package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// RampGain scales a block of samples with a gain ramp from `from` to `to`
// across its length, following the smoothstep curve. The consumer uses this
// to mask the edges of a silence substitution without an audible click.
// Returns a new slice; the input is not modified.
func RampGain(samples []int16, from, to float64) []int16 {
	result := make([]int16, len(samples))
	n := float64(len(samples))

	for i, s := range samples {
		progress := float64(i) / n
		gain := from + (to-from)*Smoothstep(progress)
		scaled := float64(s) * gain

		// Clip to int16 range
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		result[i] = int16(scaled)
	}

	return result
}
