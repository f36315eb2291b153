// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package ladder

import "time"

// Tier is one of the four chunk durations maintained in parallel.
type Tier string

const (
	Tier10Min Tier = "10min"
	Tier1H    Tier = "1h"
	Tier6H    Tier = "6h"
	Tier24H   Tier = "24h"
)

// Tiers lists all tiers from finest to coarsest. Uploads follow this order
// so the first blob available to a client is the finest-grain one.
var Tiers = []Tier{Tier10Min, Tier1H, Tier6H, Tier24H}

// Duration returns the nominal chunk length of the tier.
func (t Tier) Duration() time.Duration {
	switch t {
	case Tier10Min:
		return 10 * time.Minute
	case Tier1H:
		return time.Hour
	case Tier6H:
		return 6 * time.Hour
	case Tier24H:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Duration() != 0
}

// ChunksPerDay returns how many chunks of this tier a complete day holds.
func (t Tier) ChunksPerDay() int {
	return int((24 * time.Hour) / t.Duration())
}

// SelectTier picks the smallest tier whose chunk size fits the requested
// duration, so short seeks get small first-byte latency and long surveys
// get few large chunks.
func SelectTier(duration time.Duration) Tier {
	switch {
	case duration <= 10*time.Minute:
		return Tier10Min
	case duration <= time.Hour:
		return Tier1H
	case duration <= 6*time.Hour:
		return Tier6H
	default:
		return Tier24H
	}
}
