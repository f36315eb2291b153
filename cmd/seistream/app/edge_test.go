// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earscope/seistream/pkg/dayindex"
	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/ladder"
	"github.com/earscope/seistream/pkg/normalize"
	"github.com/earscope/seistream/pkg/objstore"
	"github.com/earscope/seistream/pkg/objstore/local"
)

func newTestEdge(t *testing.T, now time.Time) *edge {
	t.Helper()
	obj, err := local.New(t.TempDir(), "http://localhost/blob")
	require.NoError(t, err)
	cfg := DefaultConfig
	return &edge{
		indexes: dayindex.NewStore(obj, func(fdsn.SID) string { return "test" }),
		obj:     obj,
		cfg:     &cfg,
		now:     func() time.Time { return now },
	}
}

func edgeRequest(start time.Time, dur time.Duration) parsedRequest {
	return parsedRequest{
		SID:      fdsn.SID{Network: "UW", Station: "RCM", Channel: "EHZ"},
		Start:    start,
		Duration: dur,
	}
}

func TestPlanDayExpandsToTierGrid(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEdge(t, now)

	start := time.Date(2025, 3, 1, 0, 9, 30, 0, time.UTC)
	req := edgeRequest(start, time.Minute)
	window := timeRange{Start: start, End: start.Add(time.Minute)}

	plan := e.planDay(context.Background(), req, ladder.Tier10Min, window, slog.Default())
	require.Len(t, plan.chunks, 2)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), plan.chunks[0].rng.Start)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 10, 0, 0, time.UTC), plan.chunks[0].rng.End)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 20, 0, 0, time.UTC), plan.chunks[1].rng.End)
	assert.False(t, plan.chunks[0].cached)
	assert.Equal(t, 100.0, plan.sampleRate)
}

func TestPlanDayClampsToLiveEdge(t *testing.T) {
	// "Now" is 00:14:30 on the requested day: the second 10min slot is
	// clipped to now, the rest of the day is not planned at all.
	now := time.Date(2025, 3, 1, 0, 14, 30, 0, time.UTC)
	e := newTestEdge(t, now)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	req := edgeRequest(start, 30*time.Minute)
	window := timeRange{Start: start, End: start.Add(30 * time.Minute)}

	plan := e.planDay(context.Background(), req, ladder.Tier10Min, window, slog.Default())
	require.Len(t, plan.chunks, 2)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 10, 0, 0, time.UTC), plan.chunks[1].rng.Start)
	assert.Equal(t, now, plan.chunks[1].rng.End, "live slot is ingested only up to now")
}

func TestPlanDayEntirelyInFuture(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEdge(t, now)

	start := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	req := edgeRequest(start, 10*time.Minute)
	window := timeRange{Start: start, End: start.Add(10 * time.Minute)}

	plan := e.planDay(context.Background(), req, ladder.Tier10Min, window, slog.Default())
	assert.Empty(t, plan.chunks)
}

func TestPlanDayUsesCachedIndex(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEdge(t, now)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sid := fdsn.SID{Network: "UW", Station: "RCM", Channel: "EHZ"}

	_, err := e.indexes.MergeAndWrite(context.Background(), dayindex.Update{
		SID: sid, SampleRate: 40, Day: day,
		Chunks: map[ladder.Tier][]dayindex.ChunkRef{
			ladder.Tier10Min: {{Start: "00:00:00", End: "00:10:00", Min: -7, Max: 7, Samples: 24000}},
		},
	})
	require.NoError(t, err)

	req := edgeRequest(day, 20*time.Minute)
	window := timeRange{Start: day, End: day.Add(20 * time.Minute)}
	plan := e.planDay(context.Background(), req, ladder.Tier10Min, window, slog.Default())

	require.Len(t, plan.chunks, 2)
	assert.True(t, plan.chunks[0].cached)
	assert.Equal(t, 24000, plan.chunks[0].ref.Samples)
	assert.False(t, plan.chunks[1].cached)
	assert.Equal(t, 40.0, plan.sampleRate, "cached index sample rate wins over the default")
}

func TestPartialCachedChunkIsRefetched(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEdge(t, now)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sid := fdsn.SID{Network: "UW", Station: "RCM", Channel: "EHZ"}

	_, err := e.indexes.MergeAndWrite(context.Background(), dayindex.Update{
		SID: sid, SampleRate: 100, Day: day,
		Chunks: map[ladder.Tier][]dayindex.ChunkRef{
			ladder.Tier10Min: {{Start: "00:00:00", End: "00:04:00", Partial: true, Samples: 24000}},
		},
	})
	require.NoError(t, err)

	req := edgeRequest(day, 10*time.Minute)
	window := timeRange{Start: day, End: day.Add(10 * time.Minute)}
	plan := e.planDay(context.Background(), req, ladder.Tier10Min, window, slog.Default())

	require.Len(t, plan.chunks, 1)
	assert.False(t, plan.chunks[0].cached, "a partial chunk is re-ingested to upgrade it")
}

func TestMetadataAggregation(t *testing.T) {
	e := newTestEdge(t, time.Now())
	plans := []dayPlan{{
		sampleRate: 100,
		chunks: []plannedChunk{
			{rng: timeRange{Start: time.Now(), End: time.Now()}, cached: true,
				ref: dayindex.ChunkRef{Min: -50, Max: 20, Samples: 60000}},
			{rng: timeRange{Start: time.Now(), End: time.Now()}, cached: true,
				ref: dayindex.ChunkRef{Min: -10, Max: 90, Samples: 60000}},
			{rng: timeRange{Start: time.Now(), End: time.Now()}},
		},
	}}
	md := e.metadata(plans, ladder.Tier10Min)
	assert.False(t, md.Partial)
	assert.Equal(t, 2, md.CachedCount)
	assert.Equal(t, 1, md.MissingCount)
	assert.Equal(t, int32(-50), md.Min)
	assert.Equal(t, int32(90), md.Max)
	assert.Len(t, md.Selection, 3)
}

// gatedStore delays reads until the gate opens, to observe ordering between
// the cached fan-out and the origin kick-off.
type gatedStore struct {
	objstore.Store
	gate <-chan struct{}
}

func (g gatedStore) Get(ctx context.Context, name string) ([]byte, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Store.Get(ctx, name)
}

func TestServeDayStartsOriginBeforeCachedFanout(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sid := fdsn.SID{Network: "UW", Station: "RCM", Channel: "EHZ"}

	obj, err := local.New(t.TempDir(), "http://localhost/blob")
	require.NoError(t, err)
	indexes := dayindex.NewStore(obj, func(fdsn.SID) string { return "test" })

	// Prime the first 10min slot.
	res := normalize.Synthetic(day, day.Add(10*time.Minute), 100, 0)
	tiers, err := ladder.Build(res)
	require.NoError(t, err)
	chunk := tiers[ladder.Tier10Min][0]
	path := indexes.ChunkPath(sid, 100, day, chunk.Start, chunk.End)
	_, err = obj.Put(context.Background(), path, chunk.Data, objstore.PutOptions{Immutable: true})
	require.NoError(t, err)
	_, err = indexes.MergeAndWrite(context.Background(), dayindex.Update{
		SID: sid, SampleRate: 100, Day: day,
		Chunks: map[ladder.Tier][]dayindex.ChunkRef{
			ladder.Tier10Min: {dayindex.NewChunkRef(day, chunk)},
		},
	})
	require.NoError(t, err)

	// The cached read only unblocks once the archive has been contacted, so
	// a sequential cached-then-origin order would stall the whole stream.
	fetchStarted := make(chan struct{})
	var once sync.Once
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fdsnws/dataselect/1/query" {
			once.Do(func() { close(fetchStarted) })
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer archive.Close()

	client := fdsn.NewClient(fdsn.Config{BaseURL: archive.URL, MaxConcurrent: 2, TimeoutS: 30, MaxFetchSeconds: 6 * 3600})
	workers := pond.New(2, 64)
	defer workers.StopAndWait()
	cfg := DefaultConfig
	origin := newOriginCoordinator(context.Background(), obj, indexes, client, workers, &cfg)

	e := &edge{
		indexes: indexes,
		obj:     gatedStore{Store: obj, gate: fetchStarted},
		origin:  origin,
		cfg:     &cfg,
		now:     func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}

	rec := httptest.NewRecorder()
	sw, err := newSSEWriter(rec)
	require.NoError(t, err)

	// Window spans the cached slot and one missing slot.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req := edgeRequest(day.Add(5*time.Minute), 10*time.Minute)
	require.NoError(t, e.serveStream(ctx, sw, req, slog.Default()))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, findAll(events, evChunkData), 1)
	require.Len(t, findAll(events, evChunkUploaded), 1)
	done := decodeInto[completeEvent](t, events[len(events)-1])
	assert.Equal(t, statusOK, done.Status)
}

func TestAppendRangeCoalescesAdjacent(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	step := 10 * time.Minute
	var ranges []timeRange
	ranges = appendRange(ranges, timeRange{Start: day, End: day.Add(step)})
	ranges = appendRange(ranges, timeRange{Start: day.Add(step), End: day.Add(2 * step)})
	ranges = appendRange(ranges, timeRange{Start: day.Add(4 * step), End: day.Add(5 * step)})

	require.Len(t, ranges, 2)
	assert.Equal(t, day, ranges[0].Start)
	assert.Equal(t, day.Add(2*step), ranges[0].End)
	assert.Equal(t, day.Add(4*step), ranges[1].Start)
}
