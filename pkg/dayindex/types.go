// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package dayindex defines the per-day JSON manifest of cached chunks and
// the naming of chunk blobs and storage paths.
package dayindex

import (
	"fmt"
	"math"
	"path"
	"time"

	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/ladder"
	"github.com/earscope/seistream/pkg/normalize"
)

// ChunkRef names one chunk in a tier list. Start and end are HH:MM:SS on
// whole seconds within the day; a chunk ending at the following midnight
// uses "24:00:00".
type ChunkRef struct {
	Start              string  `json:"start"`
	End                string  `json:"end"`
	Partial            bool    `json:"partial,omitempty"`
	Min                int32   `json:"min"`
	Max                int32   `json:"max"`
	Samples            int     `json:"samples"`
	GapCount           int     `json:"gap_count"`
	GapDurationSeconds float64 `json:"gap_duration_seconds"`
	GapSamplesFilled   int     `json:"gap_samples_filled"`
}

// GapRecord is the day-scoped detailed gap entry.
type GapRecord struct {
	Start           string  `json:"start_iso"`
	End             string  `json:"end_iso"`
	DurationSeconds float64 `json:"duration_seconds"`
	SamplesFilled   int     `json:"samples_filled"`
}

// Index is the per-(SID, day) manifest. It is JSON on the wire and typed
// in memory.
type Index struct {
	Date           string               `json:"date"`
	Network        string               `json:"network"`
	Station        string               `json:"station"`
	Location       string               `json:"location"`
	Channel        string               `json:"channel"`
	InstrumentType string               `json:"instrument_type,omitempty"`
	SampleRate     float64              `json:"sample_rate"`
	Latitude       *float64             `json:"latitude,omitempty"`
	Longitude      *float64             `json:"longitude,omitempty"`
	ElevationM     *float64             `json:"elevation_m,omitempty"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at"`
	CompleteDay    bool                 `json:"complete_day"`
	Chunks         map[string][]ChunkRef `json:"chunks"`
	Gaps           []GapRecord          `json:"gaps,omitempty"`
}

// SID returns the station identity of the index.
func (ix *Index) SID() fdsn.SID {
	return fdsn.SID{Network: ix.Network, Station: ix.Station, Location: ix.Location, Channel: ix.Channel}
}

// Day parses the index date.
func (ix *Index) Day() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", ix.Date, time.UTC)
}

// TierChunks returns the sorted chunk list for a tier.
func (ix *Index) TierChunks(tier ladder.Tier) []ChunkRef {
	if ix == nil || ix.Chunks == nil {
		return nil
	}
	return ix.Chunks[string(tier)]
}

// FormatDayTime renders a time within day as HH:MM:SS, using 24:00:00 for
// the following midnight.
func FormatDayTime(day, t time.Time) string {
	if t.Equal(day.Add(24 * time.Hour)) {
		return "24:00:00"
	}
	return t.UTC().Format("15:04:05")
}

// ParseDayTime is the inverse of FormatDayTime.
func ParseDayTime(day time.Time, s string) (time.Time, error) {
	if s == "24:00:00" {
		return day.Add(24 * time.Hour), nil
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return time.Time{}, fmt.Errorf("bad day time %q: %w", s, err)
	}
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
}

// StartTime returns the chunk start as an absolute time within day.
func (c ChunkRef) StartTime(day time.Time) time.Time {
	t, _ := ParseDayTime(day, c.Start)
	return t
}

// EndTime returns the chunk end as an absolute time within day.
func (c ChunkRef) EndTime(day time.Time) time.Time {
	t, _ := ParseDayTime(day, c.End)
	return t
}

// Stats converts the ref back to ladder stats.
func (c ChunkRef) Stats() ladder.Stats {
	return ladder.Stats{
		Min:                c.Min,
		Max:                c.Max,
		Samples:            c.Samples,
		GapCount:           c.GapCount,
		GapDurationSeconds: c.GapDurationSeconds,
		GapSamplesFilled:   c.GapSamplesFilled,
	}
}

// NewChunkRef converts a built chunk into its index entry.
func NewChunkRef(day time.Time, c ladder.Chunk) ChunkRef {
	return ChunkRef{
		Start:              FormatDayTime(day, c.Start),
		End:                FormatDayTime(day, c.End),
		Partial:            c.Partial,
		Min:                c.Stats.Min,
		Max:                c.Stats.Max,
		Samples:            c.Stats.Samples,
		GapCount:           c.Stats.GapCount,
		GapDurationSeconds: c.Stats.GapDurationSeconds,
		GapSamplesFilled:   c.Stats.GapSamplesFilled,
	}
}

// NewGapRecord converts a normalizer gap into its day-scoped entry.
func NewGapRecord(g normalize.Gap) GapRecord {
	return GapRecord{
		Start:           g.Start.UTC().Format(time.RFC3339),
		End:             g.End.UTC().Format(time.RFC3339),
		DurationSeconds: g.DurationSeconds,
		SamplesFilled:   g.SamplesFilled,
	}
}

// StoragePrefix is the object path directory for one (SID, grouping, day):
// data/YYYY/MM/NET/<grouping>/STA/LOC/CHA
func StoragePrefix(sid fdsn.SID, grouping string, day time.Time) string {
	return path.Join(
		"data",
		day.UTC().Format("2006"),
		day.UTC().Format("01"),
		sid.Network,
		grouping,
		sid.Station,
		sid.LocationOrEmpty(),
		sid.Channel,
	)
}

// IndexObjectName is the day index file name within the storage prefix.
func IndexObjectName(day time.Time) string {
	return day.UTC().Format("2006-01-02") + ".json"
}

// ChunkObjectName is the self-describing blob name:
// NET_STA_LOC_CHA_SRHz_YYYY-MM-DD-hh-mm-ss_to_YYYY-MM-DD-hh-mm-ss.bin.<codec>
func ChunkObjectName(sid fdsn.SID, sampleRate float64, start, end time.Time) string {
	const tf = "2006-01-02-15-04-05"
	return fmt.Sprintf("%s_%s_%s_%s_%sHz_%s_to_%s.bin.%s",
		sid.Network, sid.Station, sid.LocationOrEmpty(), sid.Channel,
		fdsn.FormatSampleRate(sampleRate),
		start.UTC().Format(tf), end.UTC().Format(tf),
		ladder.CodecSuffix)
}

// ExpectedSamples is round((end-start) * sampleRate), the exact sample count
// every persisted chunk must have.
func ExpectedSamples(start, end time.Time, sampleRate float64) int {
	return int(math.Round(end.Sub(start).Seconds() * sampleRate))
}
