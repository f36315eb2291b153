// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dayindex

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/ladder"
)

// Update carries the chunks and gaps one origin run wants merged into the
// day index.
type Update struct {
	SID        fdsn.SID
	SampleRate float64
	Day        time.Time
	Meta       *fdsn.StationMeta
	Chunks     map[ladder.Tier][]ChunkRef
	Gaps       []GapRecord
}

// Merge folds update into existing (which may be nil for a first write).
// Within each tier, entries are unioned by start with new entries winning:
// a refetch can upgrade a partial chunk or recover previously-missing
// seconds. The result is sorted, deduplicated, and has complete_day
// recomputed. Merging an already-present chunk set changes only updated_at.
func Merge(existing *Index, update Update, now time.Time) *Index {
	ix := &Index{
		Date:       update.Day.UTC().Format("2006-01-02"),
		Network:    update.SID.Network,
		Station:    update.SID.Station,
		Location:   update.SID.LocationOrEmpty(),
		Channel:    update.SID.Channel,
		SampleRate: update.SampleRate,
		CreatedAt:  now.UTC().Format(time.RFC3339),
		Chunks:     map[string][]ChunkRef{},
	}
	if existing != nil {
		*ix = *existing
		ix.Chunks = lo.MapValues(existing.Chunks, func(refs []ChunkRef, _ string) []ChunkRef {
			return append([]ChunkRef(nil), refs...)
		})
		ix.Gaps = append([]GapRecord(nil), existing.Gaps...)
	}
	ix.UpdatedAt = now.UTC().Format(time.RFC3339)

	if update.Meta != nil {
		m := *update.Meta
		ix.Latitude = &m.Latitude
		ix.Longitude = &m.Longitude
		ix.ElevationM = &m.ElevationM
		ix.InstrumentType = m.InstrumentType
	}

	for tier, refs := range update.Chunks {
		ix.Chunks[string(tier)] = mergeTier(ix.Chunks[string(tier)], refs)
	}
	ix.Gaps = mergeGaps(ix.Gaps, update.Gaps)
	ix.CompleteDay = isCompleteDay(ix)
	return ix
}

// mergeTier unions by start, new entries winning on collision.
func mergeTier(old, incoming []ChunkRef) []ChunkRef {
	byStart := lo.SliceToMap(old, func(c ChunkRef) (string, ChunkRef) { return c.Start, c })
	for _, c := range incoming {
		byStart[c.Start] = c
	}
	merged := lo.Values(byStart)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

func mergeGaps(old, incoming []GapRecord) []GapRecord {
	byStart := lo.SliceToMap(old, func(g GapRecord) (string, GapRecord) { return g.Start, g })
	for _, g := range incoming {
		byStart[g.Start] = g
	}
	merged := lo.Values(byStart)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// isCompleteDay is true iff the 24h tier is a single full, non-partial chunk.
func isCompleteDay(ix *Index) bool {
	refs := ix.Chunks[string(ladder.Tier24H)]
	if len(refs) != 1 {
		return false
	}
	c := refs[0]
	if c.Partial || c.Start != "00:00:00" || c.End != "24:00:00" {
		return false
	}
	day, err := ix.Day()
	if err != nil {
		return false
	}
	return c.Samples == ExpectedSamples(day, day.Add(24*time.Hour), ix.SampleRate)
}
