// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package normalize turns decoded archive segments into one contiguous,
// second-aligned int32 array with an audit of every interpolated gap.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/earscope/seistream/pkg/mseed"
)

// ErrNoUsableData means nothing remained after trimming to second boundaries.
var ErrNoUsableData = errors.New("no usable data after trimming")

// Gap is a maximal span missing from the archive that has been linearly
// interpolated.
type Gap struct {
	Start           time.Time
	End             time.Time
	DurationSeconds float64
	SamplesFilled   int
}

// Result is the canonical continuous array. Every sample index i corresponds
// to the instant Start + i/SampleRate; Start and End are whole seconds.
type Result struct {
	Start      time.Time
	End        time.Time
	SampleRate float64
	Samples    []int32
	Gaps       []Gap
}

// SampleCount returns round((End-Start) * SampleRate), which equals
// len(Samples) by construction.
func (r Result) SampleCount() int {
	return int(math.Round(r.End.Sub(r.Start).Seconds() * r.SampleRate))
}

// Normalize merges segments covering [windowStart, windowEnd), deduplicates
// overlaps, fills interior gaps by linear interpolation, and trims the result
// to whole-second boundaries.
func Normalize(segs []mseed.Segment, sampleRate float64, windowStart, windowEnd time.Time) (Result, error) {
	if sampleRate <= 0 {
		return Result{}, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}

	clipped := clipAndSort(segs, sampleRate, windowStart, windowEnd)
	if len(clipped) == 0 {
		return Result{}, ErrNoUsableData
	}
	merged := dedupOverlaps(clipped, sampleRate)

	// Drop head segments that end before their next whole second: nothing can
	// anchor an interpolation in front of the first emitted sample, so the
	// array starts at the first usable segment instead.
	for len(merged) > 0 && !ceilSecond(merged[0].Start).Before(merged[0].End()) {
		merged = merged[1:]
	}
	if len(merged) == 0 {
		return Result{}, ErrNoUsableData
	}

	// Align the head up and the tail down to whole seconds.
	effStart := ceilSecond(merged[0].Start)
	effEnd := floorSecond(merged[len(merged)-1].End())
	if !effStart.Before(effEnd) {
		return Result{}, ErrNoUsableData
	}

	halfSample := 0.5 / sampleRate
	out := Result{Start: effStart, End: effEnd, SampleRate: sampleRate}
	total := int(math.Round(effEnd.Sub(effStart).Seconds() * sampleRate))
	out.Samples = make([]int32, 0, total)

	cursor := effStart
	for _, seg := range merged {
		lead := seg.Start.Sub(cursor).Seconds()
		// Interpolation needs an emitted sample to anchor on.
		if lead > halfSample && len(out.Samples) > 0 {
			// Interior gap between the previous segment and this one.
			n := int(math.Round(lead * sampleRate))
			prev := out.Samples[len(out.Samples)-1]
			next := seg.Samples[0]
			for k := 1; k <= n; k++ {
				frac := float64(k) / float64(n+1)
				out.Samples = append(out.Samples, prev+int32(math.Round(float64(next-prev)*frac)))
			}
			out.Gaps = append(out.Gaps, Gap{
				Start:           cursor,
				End:             seg.Start,
				DurationSeconds: lead,
				SamplesFilled:   n,
			})
			cursor = seg.Start
		}

		// Skip samples before the cursor (head alignment or tiny overlaps).
		skip := 0
		if behind := cursor.Sub(seg.Start).Seconds(); behind > halfSample {
			skip = int(math.Round(behind * sampleRate))
		}
		if skip >= len(seg.Samples) {
			continue
		}
		out.Samples = append(out.Samples, seg.Samples[skip:]...)
		cursor = seg.End()
	}

	if len(out.Samples) < total {
		return Result{}, fmt.Errorf("assembled %d samples, expected %d", len(out.Samples), total)
	}
	out.Samples = out.Samples[:total]
	return out, nil
}

// Synthetic builds an all-gap result: a constant array spanning the window
// with a single gap covering everything. Used when the archive reports
// NoData so the range still chunks and caches.
func Synthetic(windowStart, windowEnd time.Time, sampleRate float64, value int32) Result {
	start := ceilSecond(windowStart)
	end := floorSecond(windowEnd)
	n := int(math.Round(end.Sub(start).Seconds() * sampleRate))
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = value
	}
	return Result{
		Start:      start,
		End:        end,
		SampleRate: sampleRate,
		Samples:    samples,
		Gaps: []Gap{{
			Start:           start,
			End:             end,
			DurationSeconds: end.Sub(start).Seconds(),
			SamplesFilled:   n,
		}},
	}
}

// clipAndSort trims segments to the window, drops rate mismatches, and sorts
// by start time.
func clipAndSort(segs []mseed.Segment, sampleRate float64, windowStart, windowEnd time.Time) []mseed.Segment {
	var clipped []mseed.Segment
	for _, seg := range segs {
		if len(seg.Samples) == 0 {
			continue
		}
		if math.Abs(seg.SampleRate-sampleRate) > 0.01 {
			slog.Warn("dropping segment with unexpected sample rate",
				"got", seg.SampleRate, "want", sampleRate, "start", seg.Start)
			continue
		}
		c := clipSegment(seg, windowStart, windowEnd)
		if len(c.Samples) > 0 {
			clipped = append(clipped, c)
		}
	}
	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})
	return clipped
}

func clipSegment(seg mseed.Segment, windowStart, windowEnd time.Time) mseed.Segment {
	sr := seg.SampleRate
	first := 0
	if seg.Start.Before(windowStart) {
		first = int(math.Ceil(windowStart.Sub(seg.Start).Seconds() * sr))
	}
	last := len(seg.Samples)
	if seg.End().After(windowEnd) {
		last = int(math.Floor(windowEnd.Sub(seg.Start).Seconds() * sr))
	}
	if first < 0 {
		first = 0
	}
	if last > len(seg.Samples) {
		last = len(seg.Samples)
	}
	if first >= last {
		return mseed.Segment{}
	}
	out := seg
	out.Start = seg.Start.Add(time.Duration(float64(first) / sr * float64(time.Second)))
	out.Samples = seg.Samples[first:last]
	return out
}

// dedupOverlaps removes duplicated sample runs, preferring the earlier
// segment when the archive double-delivers.
func dedupOverlaps(segs []mseed.Segment, sampleRate float64) []mseed.Segment {
	halfSample := 0.5 / sampleRate
	merged := segs[:1]
	for _, seg := range segs[1:] {
		prev := &merged[len(merged)-1]
		overlap := prev.End().Sub(seg.Start).Seconds()
		if overlap <= halfSample {
			merged = append(merged, seg)
			continue
		}
		n := int(math.Round(overlap * sampleRate))
		if n >= len(seg.Samples) {
			// Fully contained duplicate.
			continue
		}
		if !overlapMatches(prev.Samples, seg.Samples, n) {
			slog.Warn("overlapping segments disagree, keeping earlier copy",
				"start", seg.Start, "overlap_samples", n)
		}
		trimmed := seg
		trimmed.Start = seg.Start.Add(time.Duration(float64(n) / sampleRate * float64(time.Second)))
		trimmed.Samples = seg.Samples[n:]
		merged = append(merged, trimmed)
	}
	return merged
}

func overlapMatches(prev, next []int32, n int) bool {
	tail := prev[len(prev)-n:]
	for i := 0; i < n && i < len(next); i++ {
		if tail[i] != next[i] {
			return false
		}
	}
	return true
}

func ceilSecond(t time.Time) time.Time {
	trunc := t.Truncate(time.Second)
	if trunc.Equal(t) {
		return t
	}
	return trunc.Add(time.Second)
}

func floorSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
