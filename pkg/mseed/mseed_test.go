// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package mseed

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInt32RoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	samples := make([]int32, 500) // forces multiple records (112 per record)
	for i := range samples {
		samples[i] = int32(i*7 - 1000)
	}
	in := Segment{
		Network: "UW", Station: "RCM", Location: "", Channel: "EHZ",
		Start: start, SampleRate: 100, Samples: samples,
	}
	data, err := EncodeInt32Records(in)
	require.NoError(t, err)
	require.Equal(t, 0, len(data)%512)

	segs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, segs, 5)

	assert.Equal(t, "UW", segs[0].Network)
	assert.Equal(t, "RCM", segs[0].Station)
	assert.Equal(t, "", segs[0].Location)
	assert.Equal(t, "EHZ", segs[0].Channel)
	assert.Equal(t, 100.0, segs[0].SampleRate)
	assert.True(t, segs[0].Start.Equal(start))

	var all []int32
	for i, seg := range segs {
		if i > 0 {
			assert.True(t, seg.Start.Equal(segs[i-1].End()), "record %d is contiguous", i)
		}
		all = append(all, seg.Samples...)
	}
	assert.Equal(t, samples, all)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(make([]byte, 20))
	require.Error(t, err)

	junk := make([]byte, 512)
	for i := range junk {
		junk[i] = 0xff
	}
	_, err = Parse(junk)
	require.Error(t, err)
}

func TestSegmentEnd(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seg := Segment{Start: start, SampleRate: 100, Samples: make([]int32, 60000)}
	assert.Equal(t, start.Add(10*time.Minute), seg.End())

	assert.Equal(t, start, Segment{Start: start}.End())
}

func TestSampleRate(t *testing.T) {
	cases := []struct {
		factor, mult int16
		want         float64
	}{
		{100, 1, 100},
		{100, 0, 100},
		{-10, 1, 0.1}, // 10-second period
		{20, -2, 10},
		{0, 1, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sampleRate(c.factor, c.mult), "factor=%d mult=%d", c.factor, c.mult)
	}
}

func TestBTimeRoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 6, 30, 15, 500_000_000, time.UTC), // leap day
	}
	for _, want := range times {
		var b [10]byte
		encodeBTime(b[:], want)
		got, err := parseBTime(b[:], binary.BigEndian)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "round trip of %s got %s", want, got)
	}
}
