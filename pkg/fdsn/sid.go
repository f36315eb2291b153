// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fdsn

import (
	"fmt"
	"strconv"
	"strings"
)

// EmptyLocation is the two-character sentinel FDSN uses for "no location".
const EmptyLocation = "--"

// SID identifies a station channel in FDSN/SEED conventions.
type SID struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// String returns the dotted form NET.STA.LOC.CHA.
func (s SID) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", s.Network, s.Station, s.LocationOrEmpty(), s.Channel)
}

// LocationOrEmpty maps a blank location to the "--" sentinel.
func (s SID) LocationOrEmpty() string {
	if s.Location == "" {
		return EmptyLocation
	}
	return s.Location
}

// QueryLocation is the location code as the FDSN web services expect it.
func (s SID) QueryLocation() string {
	if s.Location == "" {
		return EmptyLocation
	}
	return s.Location
}

// Validate checks the field lengths against SEED conventions.
func (s SID) Validate() error {
	switch {
	case s.Network == "" || len(s.Network) > 2:
		return fmt.Errorf("bad network code %q", s.Network)
	case s.Station == "" || len(s.Station) > 5:
		return fmt.Errorf("bad station code %q", s.Station)
	case len(s.Location) > 2:
		return fmt.Errorf("bad location code %q", s.Location)
	case len(s.Channel) != 3:
		return fmt.Errorf("bad channel code %q", s.Channel)
	}
	return nil
}

// FormatSampleRate renders a sample rate for blob names: "100" or "40.96".
func FormatSampleRate(sr float64) string {
	return strconv.FormatFloat(sr, 'f', -1, 64)
}

// ParseSampleRate is the inverse of FormatSampleRate.
func ParseSampleRate(s string) (float64, error) {
	sr, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || sr <= 0 {
		return 0, fmt.Errorf("bad sample rate %q", s)
	}
	return sr, nil
}
