// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dayindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earscope/seistream/pkg/fdsn"
)

func TestFormatParseDayTime(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		t    time.Time
		want string
	}{
		{day, "00:00:00"},
		{day.Add(10 * time.Minute), "00:10:00"},
		{day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), "23:59:59"},
		{day.Add(24 * time.Hour), "24:00:00"},
	}
	for _, c := range cases {
		got := FormatDayTime(day, c.t)
		assert.Equal(t, c.want, got)
		back, err := ParseDayTime(day, got)
		require.NoError(t, err)
		assert.True(t, back.Equal(c.t), "round trip of %s", c.want)
	}

	_, err := ParseDayTime(day, "garbage")
	require.Error(t, err)
}

func TestStoragePrefix(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sid := fdsn.SID{Network: "UW", Station: "RCM", Location: "", Channel: "EHZ"}
	got := StoragePrefix(sid, "rainier", day)
	assert.Equal(t, "data/2025/03/UW/rainier/RCM/--/EHZ", got)
}

func TestChunkObjectName(t *testing.T) {
	sid := fdsn.SID{Network: "UW", Station: "RCM", Location: "", Channel: "EHZ"}
	start := time.Date(2025, 3, 1, 0, 10, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	got := ChunkObjectName(sid, 100, start, end)
	assert.Equal(t, "UW_RCM_--_EHZ_100Hz_2025-03-01-00-10-00_to_2025-03-01-00-20-00.bin.zst", got)

	// Fractional rates keep their decimals.
	got = ChunkObjectName(sid, 40.96, start, end)
	assert.Contains(t, got, "_40.96Hz_")
}

func TestIndexObjectName(t *testing.T) {
	day := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-12-31.json", IndexObjectName(day))
}

func TestExpectedSamples(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 60000, ExpectedSamples(day, day.Add(10*time.Minute), 100))
	assert.Equal(t, 8640000, ExpectedSamples(day, day.Add(24*time.Hour), 100))
	assert.Equal(t, 24576, ExpectedSamples(day, day.Add(10*time.Minute), 40.96))
}
