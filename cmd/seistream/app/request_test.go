// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxDur = 24 * time.Hour

func TestParseStreamRequestOK(t *testing.T) {
	body := `{"network":"UW","station":"RCM","location":"--","channel":"EHZ",
		"starttime":"2025-03-01T00:09:30Z","duration":60,
		"options":{"sample_rate":100}}`
	req, err := parseStreamRequest(strings.NewReader(body), maxDur)
	require.NoError(t, err)
	assert.Equal(t, "UW.RCM.--.EHZ", req.SID.String())
	assert.Equal(t, "", req.SID.Location)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 9, 30, 0, time.UTC), req.Start)
	assert.Equal(t, time.Minute, req.Duration)
	assert.Equal(t, req.Start.Add(time.Minute), req.End())
	assert.Equal(t, 100.0, req.Options.SampleRate)
}

func TestParseStreamRequestRejects(t *testing.T) {
	cases := map[string]string{
		"bad json":          `{`,
		"missing network":   `{"station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":60}`,
		"bad channel":       `{"network":"UW","station":"RCM","channel":"EHZZZ","starttime":"2025-03-01T00:00:00Z","duration":60}`,
		"bad starttime":     `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"yesterday","duration":60}`,
		"fractional second": `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00.5Z","duration":60}`,
		"zero duration":     `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":0}`,
		"negative duration": `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":-5}`,
		"float duration":    `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":1.5}`,
		"over ceiling":      `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":90000}`,
		"negative option":   `{"network":"UW","station":"RCM","channel":"EHZ","starttime":"2025-03-01T00:00:00Z","duration":60,"options":{"sample_rate":-1}}`,
	}
	for name, body := range cases {
		_, err := parseStreamRequest(strings.NewReader(body), maxDur)
		require.Error(t, err, name)
		var verr validationError
		assert.ErrorAs(t, err, &verr, name)
	}
}

func TestParseStreamRequestOffsetTimezone(t *testing.T) {
	body := `{"network":"UW","station":"RCM","channel":"EHZ",
		"starttime":"2025-03-01T02:00:00+02:00","duration":60}`
	req, err := parseStreamRequest(strings.NewReader(body), maxDur)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), req.Start)
}

func TestDayWindowsSingleDay(t *testing.T) {
	req := parsedRequest{
		Start:    time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
		Duration: time.Hour,
	}
	windows := req.dayWindows()
	require.Len(t, windows, 1)
	assert.Equal(t, req.Start, windows[0].Start)
	assert.Equal(t, req.End(), windows[0].End)
}

func TestDayWindowsEndingAtMidnight(t *testing.T) {
	req := parsedRequest{
		Start:    time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC),
		Duration: time.Hour,
	}
	windows := req.dayWindows()
	require.Len(t, windows, 1)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), windows[0].End)
}

func TestDayWindowsCrossingMidnight(t *testing.T) {
	req := parsedRequest{
		Start:    time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC),
		Duration: 2 * time.Hour,
	}
	windows := req.dayWindows()
	require.Len(t, windows, 2)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), windows[0].End)
	assert.Equal(t, windows[0].End, windows[1].Start)
	assert.Equal(t, time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC), windows[1].End)
}
