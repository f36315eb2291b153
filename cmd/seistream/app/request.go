// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/json"
	"io"
	"time"

	"github.com/earscope/seistream/pkg/fdsn"
)

// streamOptions are the per-request knobs.
type streamOptions struct {
	// SampleRate is used for stations not yet in the cache. The cached day
	// index wins when present.
	SampleRate float64 `json:"sample_rate,omitempty"`
	// HighpassHz enables a one-pole high-pass before compression.
	HighpassHz float64 `json:"highpass_hz,omitempty"`
}

// streamRequest is the body of POST /request-stream.
type streamRequest struct {
	Network   string        `json:"network"`
	Station   string        `json:"station"`
	Location  string        `json:"location"`
	Channel   string        `json:"channel"`
	Starttime string        `json:"starttime"`
	Duration  float64       `json:"duration"`
	Options   streamOptions `json:"options"`
}

// parsedRequest is a validated stream request.
type parsedRequest struct {
	SID      fdsn.SID
	Start    time.Time
	Duration time.Duration
	Options  streamOptions
}

// End is the exclusive end of the requested window.
func (p parsedRequest) End() time.Time {
	return p.Start.Add(p.Duration)
}

// timeRange is a half-open [Start, End) interval on whole seconds.
type timeRange struct {
	Start time.Time
	End   time.Time
}

func (r timeRange) isZero() bool {
	return !r.Start.Before(r.End)
}

// parseStreamRequest decodes and validates the request body.
func parseStreamRequest(body io.Reader, maxDuration time.Duration) (parsedRequest, error) {
	var req streamRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return parsedRequest{}, newValidationError("bad request body: %s", err)
	}

	sid := fdsn.SID{
		Network:  req.Network,
		Station:  req.Station,
		Location: normalizeLocation(req.Location),
		Channel:  req.Channel,
	}
	if err := sid.Validate(); err != nil {
		return parsedRequest{}, newValidationError("bad station id: %s", err)
	}

	start, err := time.Parse(time.RFC3339, req.Starttime)
	if err != nil {
		return parsedRequest{}, newValidationError("bad starttime %q: %s", req.Starttime, err)
	}
	start = start.UTC()
	if start.Nanosecond() != 0 {
		return parsedRequest{}, newValidationError("starttime %q is not on a whole second", req.Starttime)
	}

	if req.Duration <= 0 || req.Duration != float64(int(req.Duration)) {
		return parsedRequest{}, newValidationError("duration must be a positive whole number of seconds, got %g", req.Duration)
	}
	duration := time.Duration(req.Duration) * time.Second
	if duration > maxDuration {
		return parsedRequest{}, newValidationError("duration %s exceeds ceiling %s", duration, maxDuration)
	}

	if req.Options.SampleRate < 0 || req.Options.HighpassHz < 0 {
		return parsedRequest{}, newValidationError("options must be non-negative")
	}
	return parsedRequest{SID: sid, Start: start, Duration: duration, Options: req.Options}, nil
}

func normalizeLocation(loc string) string {
	if loc == fdsn.EmptyLocation {
		return ""
	}
	return loc
}

// dayWindows decomposes the request into per-UTC-day sub-windows in time
// order. Most requests fit one day; a window ending exactly at midnight
// stays entirely in its own day.
func (p parsedRequest) dayWindows() []timeRange {
	var windows []timeRange
	cursor := p.Start
	end := p.End()
	for cursor.Before(end) {
		dayEnd := cursor.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		sub := timeRange{Start: cursor, End: end}
		if dayEnd.Before(end) {
			sub.End = dayEnd
		}
		windows = append(windows, sub)
		cursor = sub.End
	}
	return windows
}
