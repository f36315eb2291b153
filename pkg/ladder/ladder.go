// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package ladder cuts a contiguous sample array into the multi-resolution
// chunk tiers (10min/1h/6h/24h), computes per-chunk stats, and compresses
// each chunk payload.
package ladder

import (
	"fmt"
	"math"
	"time"

	"github.com/earscope/seistream/pkg/normalize"
)

// Stats summarize one chunk for the day index and for provisional
// normalization at the edge.
type Stats struct {
	Min                int32   `json:"min"`
	Max                int32   `json:"max"`
	Samples            int     `json:"samples"`
	GapCount           int     `json:"gap_count"`
	GapDurationSeconds float64 `json:"gap_duration_seconds"`
	GapSamplesFilled   int     `json:"gap_samples_filled"`
}

// Chunk is one tier-aligned slice of the day with its compressed payload.
type Chunk struct {
	Tier    Tier
	Start   time.Time
	End     time.Time
	Partial bool
	Stats   Stats
	Data    []byte
}

// Build cuts res into all four tiers. A chunk is produced only when its full
// interval lies inside the array, except that the trailing 10min chunk may be
// partial so live-leading-edge requests still return something. Chunk
// boundaries never cross the UTC day of res.Start.
func Build(res normalize.Result) (map[Tier][]Chunk, error) {
	day := res.Start.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)
	if res.End.After(dayEnd) {
		return nil, fmt.Errorf("array end %s crosses day boundary %s", res.End, dayEnd)
	}

	out := make(map[Tier][]Chunk, len(Tiers))
	for _, tier := range Tiers {
		step := tier.Duration()
		var chunks []Chunk
		for t := day; t.Before(dayEnd); t = t.Add(step) {
			chunkStart, chunkEnd := t, t.Add(step)
			if chunkStart.Before(res.Start) || !chunkStart.Before(res.End) {
				continue
			}
			partial := false
			if chunkEnd.After(res.End) {
				if tier != Tier10Min {
					continue
				}
				chunkEnd = res.End
				partial = true
			}
			chunks = append(chunks, buildChunk(res, tier, chunkStart, chunkEnd, partial))
		}
		out[tier] = chunks
	}
	return out, nil
}

func buildChunk(res normalize.Result, tier Tier, start, end time.Time, partial bool) Chunk {
	sr := res.SampleRate
	i0 := int(math.Round(start.Sub(res.Start).Seconds() * sr))
	i1 := int(math.Round(end.Sub(res.Start).Seconds() * sr))
	slice := res.Samples[i0:i1]

	stats := Stats{Samples: len(slice)}
	if len(slice) > 0 {
		stats.Min, stats.Max = slice[0], slice[0]
		for _, s := range slice[1:] {
			if s < stats.Min {
				stats.Min = s
			}
			if s > stats.Max {
				stats.Max = s
			}
		}
	}

	// Gaps straddling the chunk boundary are counted clipped in each chunk;
	// the day-scoped gap list keeps the unclipped record. Clipping happens in
	// sample space so the per-tier sums stay exact for fractional rates.
	for _, g := range res.Gaps {
		gs := int(math.Round(g.Start.Sub(res.Start).Seconds() * sr))
		ge := gs + g.SamplesFilled
		lo, hi := max(gs, i0), min(ge, i1)
		if lo >= hi {
			continue
		}
		stats.GapCount++
		stats.GapSamplesFilled += hi - lo
		stats.GapDurationSeconds += float64(hi-lo) / sr
	}

	return Chunk{
		Tier:    tier,
		Start:   start,
		End:     end,
		Partial: partial,
		Stats:   stats,
		Data:    Compress(slice),
	}
}
