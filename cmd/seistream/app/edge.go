// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/earscope/seistream/pkg/dayindex"
	"github.com/earscope/seistream/pkg/ladder"
	"github.com/earscope/seistream/pkg/objstore"
)

// edge serves one SSE stream: classify the window against the day indexes,
// fan out cached chunks immediately, and proxy origin progress for the rest.
type edge struct {
	indexes *dayindex.Store
	obj     objstore.Store
	origin  *originCoordinator
	cfg     *ServerConfig
	now     func() time.Time
}

// plannedChunk is one tier-grid slot the request maps onto.
type plannedChunk struct {
	rng    timeRange
	cached bool
	ref    dayindex.ChunkRef
}

// dayPlan is the classification of one per-day sub-window.
type dayPlan struct {
	day        time.Time
	window     timeRange
	index      *dayindex.Index
	sampleRate float64
	chunks     []plannedChunk
}

func (dp dayPlan) cachedCount() int {
	n := 0
	for _, c := range dp.chunks {
		if c.cached {
			n++
		}
	}
	return n
}

// serveStream runs the whole event sequence for one request. The returned
// error is only for logging; by the time anything can fail the SSE stream is
// already open.
func (e *edge) serveStream(ctx context.Context, sw *sseWriter, req parsedRequest, log *slog.Logger) error {
	tier := ladder.SelectTier(req.Duration)
	plans := make([]dayPlan, 0, 2)
	for _, window := range req.dayWindows() {
		plans = append(plans, e.planDay(ctx, req, tier, window, log))
	}

	if err := sw.send(evMetadataCalculated, e.metadata(plans, tier)); err != nil {
		return err
	}

	streamed := 0
	for _, plan := range plans {
		n, err := e.serveDay(ctx, sw, req, tier, plan, log)
		streamed += n
		if err != nil {
			if ctx.Err() != nil {
				// Client went away; nothing more can be delivered.
				return err
			}
			log.Error("day stream failed", "day", plan.day.Format("2006-01-02"), "err", err)
			sendErr := sw.send(evComplete, completeEvent{Status: statusAborted, EmittedChunks: streamed})
			if sendErr != nil {
				return sendErr
			}
			return err
		}
	}
	return sw.send(evComplete, completeEvent{Status: statusOK, EmittedChunks: streamed})
}

// planDay loads the day index and maps the sub-window onto the tier grid.
// Requested seconds expand outward to chunk boundaries, clamped to the day
// and to the current time.
func (e *edge) planDay(ctx context.Context, req parsedRequest, tier ladder.Tier, window timeRange, log *slog.Logger) dayPlan {
	day := window.Start.UTC().Truncate(24 * time.Hour)
	ix := e.loadIndex(ctx, req, day, log)

	sampleRate := e.cfg.DefaultSampleRate
	if req.Options.SampleRate > 0 {
		sampleRate = req.Options.SampleRate
	}
	if ix != nil && ix.SampleRate > 0 {
		sampleRate = ix.SampleRate
	}

	plan := dayPlan{day: day, window: window, index: ix, sampleRate: sampleRate}

	step := tier.Duration()
	gridStart := day.Add(window.Start.Sub(day) / step * step)
	gridEnd := day.Add((window.End.Sub(day) + step - 1) / step * step)
	dayEnd := day.Add(24 * time.Hour)
	if gridEnd.After(dayEnd) {
		gridEnd = dayEnd
	}
	liveEdge := e.now().UTC().Truncate(time.Second)

	for cs := gridStart; cs.Before(gridEnd); cs = cs.Add(step) {
		if !cs.Before(liveEdge) {
			break
		}
		ce := cs.Add(step)
		if ce.After(dayEnd) {
			ce = dayEnd
		}
		pc := plannedChunk{rng: timeRange{Start: cs, End: ce}}
		if ref, ok := findChunk(ix, tier, day, cs); ok && !ref.Partial {
			pc.cached = true
			pc.ref = ref
		} else if ce.After(liveEdge) {
			// Live leading edge: ingest only up to now; the chunk comes
			// back partial and a later request upgrades it.
			pc.rng.End = liveEdge
		}
		if !pc.rng.isZero() {
			plan.chunks = append(plan.chunks, pc)
		}
	}
	return plan
}

// loadIndex retries transient index reads a few times, then degrades to
// treating the day as uncached.
func (e *edge) loadIndex(ctx context.Context, req parsedRequest, day time.Time, log *slog.Logger) *dayindex.Index {
	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: time.Second,
		MaxRetries: 3,
	})
	for bo.Ongoing() {
		ix, _, err := e.indexes.Load(ctx, req.SID, day)
		if err == nil {
			return ix
		}
		if !objstore.IsTransient(err) {
			log.Warn("day index unreadable, treating day as uncached", "err", err)
			return nil
		}
		bo.Wait()
	}
	log.Warn("day index load did not settle, treating day as uncached", "day", day.Format("2006-01-02"))
	return nil
}

// metadata builds the metadata_calculated payload. The provisional range
// comes from cached chunks only and is partial when nothing was cached.
func (e *edge) metadata(plans []dayPlan, tier ladder.Tier) metadataEvent {
	ev := metadataEvent{Tier: string(tier), Selection: []chunkSummary{}}
	haveRange := false
	for _, plan := range plans {
		if ev.SampleRate == 0 {
			ev.SampleRate = plan.sampleRate
		}
		for _, pc := range plan.chunks {
			ev.Selection = append(ev.Selection, chunkSummary{
				Start:   pc.rng.Start.UTC().Format(time.RFC3339),
				End:     pc.rng.End.UTC().Format(time.RFC3339),
				Cached:  pc.cached,
				Partial: pc.ref.Partial,
			})
			if !pc.cached {
				ev.MissingCount++
				continue
			}
			ev.CachedCount++
			if !haveRange || pc.ref.Min < ev.Min {
				ev.Min = pc.ref.Min
			}
			if !haveRange || pc.ref.Max > ev.Max {
				ev.Max = pc.ref.Max
			}
			haveRange = true
		}
	}
	ev.Partial = !haveRange
	return ev
}

// serveDay streams one day: cached chunks first, then origin progress for
// the missing ranges, then the definitive range. Returns the number of
// chunk events delivered.
func (e *edge) serveDay(ctx context.Context, sw *sseWriter, req parsedRequest, tier ladder.Tier, plan dayPlan, log *slog.Logger) (int, error) {
	var missing []timeRange
	for _, pc := range plan.chunks {
		if !pc.cached {
			missing = appendRange(missing, pc.rng)
		}
	}

	// Kick the origin off first so the archive fetch overlaps the cached
	// fan-out. History replay makes the early subscription safe.
	var sub <-chan originEvent
	if len(missing) > 0 {
		sub = e.origin.process(originJob{
			sid:        req.SID,
			sampleRate: plan.sampleRate,
			day:        plan.day,
			missing:    missing,
			options:    req.Options,
		})
	}

	streamed := 0
	for _, pc := range plan.chunks {
		if !pc.cached {
			continue
		}
		if err := e.sendCachedChunk(ctx, sw, req, tier, plan, pc); err != nil {
			if ctx.Err() != nil {
				return streamed, err
			}
			log.Warn("cached chunk unavailable", "start", pc.rng.Start, "err", err)
			if serr := sw.send(evChunkError, chunkErrorEvent{
				Start:  pc.rng.Start.UTC().Format(time.RFC3339),
				Reason: err.Error(),
			}); serr != nil {
				return streamed, serr
			}
			continue
		}
		prometheusMW.chunksCached.Inc()
		streamed++
	}

	if sub == nil {
		if plan.index != nil {
			return streamed, e.sendRange(sw, plan.index, tier, plan)
		}
		return streamed, nil
	}
	n, err := e.proxyOrigin(ctx, sw, tier, plan, sub)
	return streamed + n, err
}

// sendCachedChunk fetches one cached blob and delivers it inline. Transient
// store failures get a few attempts before the chunk is reported failed.
func (e *edge) sendCachedChunk(ctx context.Context, sw *sseWriter, req parsedRequest, tier ladder.Tier, plan dayPlan, pc plannedChunk) error {
	path := e.indexes.ChunkPath(req.SID, plan.sampleRate, plan.day, pc.rng.Start, pc.rng.End)

	var data []byte
	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		MaxRetries: 3,
	})
	var err error
	for bo.Ongoing() {
		data, err = e.obj.Get(ctx, path)
		if err == nil {
			break
		}
		if !objstore.IsTransient(err) {
			return fmt.Errorf("read chunk %s: %w", path, err)
		}
		bo.Wait()
	}
	if err != nil {
		return fmt.Errorf("read chunk %s: %w", path, err)
	}

	return sw.send(evChunkData, chunkDataEvent{
		Tier:    string(tier),
		Start:   pc.rng.Start.UTC().Format(time.RFC3339),
		End:     pc.rng.End.UTC().Format(time.RFC3339),
		Cached:  true,
		Partial: pc.ref.Partial,
		Samples: pc.ref.Samples,
		Bytes:   frameChunkBytes(data),
	})
}

// proxyOrigin forwards origin progress to the client, with a watchdog that
// aborts the stream when the pipeline stalls.
func (e *edge) proxyOrigin(ctx context.Context, sw *sseWriter, tier ladder.Tier, plan dayPlan, sub <-chan originEvent) (int, error) {
	streamed := 0
	wait := time.Duration(e.cfg.OriginWaitS) * time.Second
	watchdog := time.NewTimer(wait)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return streamed, ctx.Err()
		case <-watchdog.C:
			err := sw.send(evOriginError, originErrorEvent{
				Reason: fmt.Sprintf("no origin progress within %s", wait),
			})
			if err != nil {
				return streamed, err
			}
			return streamed, fmt.Errorf("origin stalled for %s", wait)
		case ev, ok := <-sub:
			if !ok {
				// Closed without a done event: this subscriber was dropped.
				err := sw.send(evOriginError, originErrorEvent{Reason: "origin stream interrupted"})
				if err != nil {
					return streamed, err
				}
				return streamed, fmt.Errorf("origin subscription dropped")
			}
			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(wait)

			switch {
			case ev.Uploaded != nil:
				if e.acceptUpload(plan, tier, ev.Uploaded) {
					if err := sw.send(evChunkUploaded, ev.Uploaded); err != nil {
						return streamed, err
					}
					streamed++
				}
			case ev.ChunkErr != nil:
				if err := sw.send(evChunkError, ev.ChunkErr); err != nil {
					return streamed, err
				}
			case ev.Index != nil:
				if err := e.sendRange(sw, ev.Index, tier, plan); err != nil {
					return streamed, err
				}
			case ev.Done && ev.Err != nil:
				err := sw.send(evOriginError, originErrorEvent{Reason: ev.Err.Error()})
				if err != nil {
					return streamed, err
				}
				return streamed, ev.Err
			case ev.Done:
				return streamed, nil
			}
		}
	}
}

// acceptUpload reports whether an origin upload belongs in this stream.
// Selected-tier uploads must start on a planned slot. Finest-tier uploads
// are forwarded for clamped slots (live leading edge) that the selected
// tier cannot cover yet, so a coarse-tier request over a live window still
// receives waveform events. A coalesced pipeline can also carry a wider
// window than ours, which these checks filter out.
func (e *edge) acceptUpload(plan dayPlan, tier ladder.Tier, up *chunkUploadedEvent) bool {
	start, err := time.Parse(time.RFC3339, up.Start)
	if err != nil {
		return false
	}
	start = start.UTC()
	if up.Tier == string(tier) {
		for _, pc := range plan.chunks {
			if pc.rng.Start.Equal(start) {
				return true
			}
		}
		return false
	}
	if up.Tier != string(ladder.Tier10Min) {
		return false
	}
	end, err := time.Parse(time.RFC3339, up.End)
	if err != nil {
		return false
	}
	end = end.UTC()
	step := tier.Duration()
	for _, pc := range plan.chunks {
		if pc.cached || pc.rng.End.Sub(pc.rng.Start) >= step {
			continue
		}
		if start.Before(pc.rng.End) && end.After(pc.rng.Start) {
			return true
		}
	}
	return false
}

// sendRange emits the definitive amplitude range over the chunks of the
// selected tier that overlap the day window. A clamped live slot may exist
// only at the finest tier so far; fall back to it rather than staying silent.
func (e *edge) sendRange(sw *sseWriter, ix *dayindex.Index, tier ladder.Tier, plan dayPlan) error {
	ev, have := rangeOver(ix.TierChunks(tier), plan)
	if !have && tier != ladder.Tier10Min {
		ev, have = rangeOver(ix.TierChunks(ladder.Tier10Min), plan)
	}
	if !have {
		return nil
	}
	return sw.send(evRangeUpdate, ev)
}

func rangeOver(refs []dayindex.ChunkRef, plan dayPlan) (rangeUpdateEvent, bool) {
	var ev rangeUpdateEvent
	have := false
	for _, ref := range refs {
		cs := ref.StartTime(plan.day)
		ce := ref.EndTime(plan.day)
		if !cs.Before(plan.window.End) || !ce.After(plan.window.Start) {
			continue
		}
		if !have || ref.Min < ev.Min {
			ev.Min = ref.Min
		}
		if !have || ref.Max > ev.Max {
			ev.Max = ref.Max
		}
		have = true
	}
	return ev, have
}

// findChunk looks up the tier entry starting at cs.
func findChunk(ix *dayindex.Index, tier ladder.Tier, day time.Time, cs time.Time) (dayindex.ChunkRef, bool) {
	if ix == nil {
		return dayindex.ChunkRef{}, false
	}
	want := dayindex.FormatDayTime(day, cs)
	for _, ref := range ix.TierChunks(tier) {
		if ref.Start == want {
			return ref, true
		}
	}
	return dayindex.ChunkRef{}, false
}

// appendRange extends the last range when contiguous, so adjacent missing
// chunks become one archive fetch.
func appendRange(ranges []timeRange, rng timeRange) []timeRange {
	if n := len(ranges); n > 0 && ranges[n-1].End.Equal(rng.Start) {
		ranges[n-1].End = rng.End
		return ranges
	}
	return append(ranges, rng)
}
