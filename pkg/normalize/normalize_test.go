// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/earscope/seistream/pkg/mseed"
)

func seg(start time.Time, sr float64, samples ...int32) mseed.Segment {
	return mseed.Segment{Start: start, SampleRate: sr, Samples: samples}
}

func ramp(n int, from int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = from + int32(i)
	}
	return out
}

func TestNormalizeContiguous(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	segs := []mseed.Segment{
		seg(start, 10, ramp(100, 0)...),
		seg(start.Add(10*time.Second), 10, ramp(100, 100)...),
	}
	res, err := Normalize(segs, 10, start, start.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, start, res.Start)
	require.Equal(t, start.Add(20*time.Second), res.End)
	require.Len(t, res.Samples, 200)
	require.Empty(t, res.Gaps)
	require.Equal(t, int32(0), res.Samples[0])
	require.Equal(t, int32(199), res.Samples[199])
	require.Equal(t, len(res.Samples), res.SampleCount())
}

func TestNormalizeInteriorGapInterpolated(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	// 10 Hz, samples for [0s, 10s) and [20s, 30s), gap of 10s between.
	segs := []mseed.Segment{
		seg(start, 10, ramp(100, 0)...),
		seg(start.Add(20*time.Second), 10, ramp(100, 300)...),
	}
	res, err := Normalize(segs, 10, start, start.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, res.Samples, 300)

	require.Len(t, res.Gaps, 1)
	g := res.Gaps[0]
	require.Equal(t, start.Add(10*time.Second), g.Start)
	require.Equal(t, start.Add(20*time.Second), g.End)
	require.Equal(t, 100, g.SamplesFilled)
	require.InDelta(t, 10.0, g.DurationSeconds, 1e-9)

	// The fill climbs monotonically from the last real sample (99) to the
	// first sample after the gap (300).
	prev := res.Samples[99]
	for i := 100; i < 200; i++ {
		require.GreaterOrEqual(t, res.Samples[i], prev, "fill sample %d", i)
		prev = res.Samples[i]
	}
	require.Equal(t, int32(300), res.Samples[200])
}

func TestNormalizeTrimsToWholeSeconds(t *testing.T) {
	// Segment starts 0.35s past the second; head must align up to :01.
	start := time.Date(2025, 3, 1, 0, 0, 0, 350_000_000, time.UTC)
	segs := []mseed.Segment{seg(start, 20, ramp(200, 0)...)} // 10s of data
	res, err := Normalize(segs, 20, start, start.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 1, 0, time.UTC), res.Start)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 10, 0, time.UTC), res.End)
	require.Len(t, res.Samples, 9*20)
	require.Equal(t, 0, res.Start.Nanosecond())
	require.Equal(t, 0, res.End.Nanosecond())
}

func TestNormalizeDuplicateDeliveryKeepsEarlier(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	first := seg(start, 10, ramp(100, 0)...)
	// Second delivery overlaps the last 5 seconds with identical values,
	// then continues.
	overlap := append(ramp(50, 50), ramp(100, 100)...)
	second := seg(start.Add(5*time.Second), 10, overlap...)

	res, err := Normalize([]mseed.Segment{first, second}, 10, start, start.Add(15*time.Second))
	require.NoError(t, err)
	require.Len(t, res.Samples, 150)
	require.Empty(t, res.Gaps)
	for i, s := range res.Samples {
		require.Equal(t, int32(i), s, "sample %d", i)
	}
}

func TestNormalizeFullyContainedDuplicateDropped(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	segs := []mseed.Segment{
		seg(start, 10, ramp(100, 0)...),
		seg(start.Add(2*time.Second), 10, ramp(30, 20)...), // inside the first
	}
	res, err := Normalize(segs, 10, start, start.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, res.Samples, 100)
	require.Empty(t, res.Gaps)
}

func TestNormalizeSubSecondHeadRecordDropped(t *testing.T) {
	// A short head record that ends before the next whole second cannot be
	// trimmed onto the second grid. The array must start at the first usable
	// segment, with no leading gap record.
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	head := seg(day.Add(200*time.Millisecond), 100, ramp(60, 0)...) // ends at 0.8s
	tail := seg(day.Add(5*time.Second), 100, ramp(500, 1000)...)    // [5s, 10s)

	res, err := Normalize([]mseed.Segment{head, tail}, 100, day, day.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, day.Add(5*time.Second), res.Start)
	require.Equal(t, day.Add(10*time.Second), res.End)
	require.Len(t, res.Samples, 500)
	require.Empty(t, res.Gaps)
	require.Equal(t, int32(1000), res.Samples[0])
}

func TestNormalizeOnlySubSecondRecords(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	segs := []mseed.Segment{
		seg(day.Add(200*time.Millisecond), 100, ramp(60, 0)...),
		seg(day.Add(3*time.Second).Add(100*time.Millisecond), 100, ramp(50, 0)...),
	}
	_, err := Normalize(segs, 100, day, day.Add(10*time.Second))
	require.ErrorIs(t, err, ErrNoUsableData)
}

func TestNormalizeDropsRateMismatch(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	segs := []mseed.Segment{seg(start, 40, ramp(400, 0)...)}
	_, err := Normalize(segs, 100, start, start.Add(10*time.Second))
	require.ErrorIs(t, err, ErrNoUsableData)
}

func TestNormalizeNoUsableData(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := Normalize(nil, 100, start, start.Add(time.Minute))
	require.ErrorIs(t, err, ErrNoUsableData)

	// Less than one second of samples vanishes in the trim.
	short := []mseed.Segment{seg(start.Add(100*time.Millisecond), 100, ramp(50, 0)...)}
	_, err = Normalize(short, 100, start, start.Add(time.Minute))
	require.ErrorIs(t, err, ErrNoUsableData)
}

func TestNormalizeBadSampleRate(t *testing.T) {
	_, err := Normalize(nil, 0, time.Now(), time.Now())
	require.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	res := Synthetic(start, end, 100, 0)
	require.Equal(t, start, res.Start)
	require.Equal(t, end, res.End)
	require.Len(t, res.Samples, 60000)
	require.Len(t, res.Gaps, 1)
	require.Equal(t, 60000, res.Gaps[0].SamplesFilled)
	for _, s := range res.Samples {
		require.Equal(t, int32(0), s)
	}
}

func TestHighpassRemovesOffset(t *testing.T) {
	n := 2000
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = 10000 // pure DC
	}
	out := Highpass(samples, 100, 1.0)
	// After settling, a DC input must decay towards zero.
	last := out[n-1]
	require.Less(t, last, int32(100))
	require.GreaterOrEqual(t, last, int32(0))
}

func TestHighpassDisabled(t *testing.T) {
	samples := []int32{5, 6, 7}
	out := Highpass(samples, 100, 0)
	require.Equal(t, []int32{5, 6, 7}, out)
}
