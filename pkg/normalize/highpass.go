// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package normalize

import "math"

// Highpass applies a one-pole high-pass filter in place and returns the
// slice. cornerHz at or below zero is a no-op; the pipeline default is to
// deliver raw samples.
func Highpass(samples []int32, sampleRate, cornerHz float64) []int32 {
	if cornerHz <= 0 || len(samples) == 0 {
		return samples
	}
	rc := 1.0 / (2 * math.Pi * cornerHz)
	dt := 1.0 / sampleRate
	alpha := rc / (rc + dt)

	prevIn := float64(samples[0])
	prevOut := 0.0
	samples[0] = 0
	for i := 1; i < len(samples); i++ {
		in := float64(samples[i])
		out := alpha * (prevOut + in - prevIn)
		prevIn = in
		prevOut = out
		samples[i] = int32(math.Round(out))
	}
	return samples
}
