// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fdsn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// StationMeta carries the optional station fields stored in day indexes.
type StationMeta struct {
	Latitude       float64
	Longitude      float64
	ElevationM     float64
	InstrumentType string
	SampleRate     float64
}

// StationMetadata queries the station service at channel level and parses
// the text format response.
func (c *Client) StationMetadata(ctx context.Context, sid SID) (StationMeta, error) {
	q := url.Values{}
	q.Set("net", sid.Network)
	q.Set("sta", sid.Station)
	q.Set("loc", sid.QueryLocation())
	q.Set("cha", sid.Channel)
	q.Set("level", "channel")
	q.Set("format", "text")

	data, _, err := c.doGet(ctx, c.cfg.BaseURL+stationPath+"?"+q.Encode())
	if err != nil {
		return StationMeta{}, err
	}
	return parseStationText(string(data))
}

// parseStationText parses the pipe-separated station text format:
// Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|
// Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|Start|End
func parseStationText(body string) (StationMeta, error) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 15 {
			continue
		}
		lat, errLat := strconv.ParseFloat(fields[4], 64)
		lon, errLon := strconv.ParseFloat(fields[5], 64)
		elev, errElev := strconv.ParseFloat(fields[6], 64)
		sr, errSR := strconv.ParseFloat(fields[14], 64)
		if errLat != nil || errLon != nil || errElev != nil || errSR != nil {
			continue
		}
		return StationMeta{
			Latitude:       lat,
			Longitude:      lon,
			ElevationM:     elev,
			InstrumentType: strings.TrimSpace(fields[10]),
			SampleRate:     sr,
		}, nil
	}
	return StationMeta{}, fmt.Errorf("no channel row in station response")
}
