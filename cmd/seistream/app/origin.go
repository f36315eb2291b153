// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"

	"github.com/earscope/seistream/pkg/dayindex"
	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/ladder"
	"github.com/earscope/seistream/pkg/mseed"
	"github.com/earscope/seistream/pkg/normalize"
	"github.com/earscope/seistream/pkg/objstore"
)

// originEvent is what an origin pipeline publishes to its subscribers.
// Exactly one field group is set per event.
type originEvent struct {
	Uploaded *chunkUploadedEvent
	ChunkErr *chunkErrorEvent
	// Index is the merged day index after all uploads; the edge derives the
	// per-request range_update from it.
	Index *dayindex.Index
	// Done closes the pipeline; Err is set when the whole pipeline failed.
	Done bool
	Err  error
}

// subscriber channels are buffered this deep. A subscriber that cannot
// drain is dropped so the pipeline never stalls on a slow client.
const subscriberBuffer = 4096

// pipeline is one in-flight origin run. Late subscribers get the full event
// history replayed so coalesced requests all see the same upload sequence.
type pipeline struct {
	id      string
	mu      sync.Mutex
	history []originEvent
	subs    []chan originEvent
	closed  bool
}

func newPipeline() *pipeline {
	return &pipeline{id: uuid.NewString()}
}

func (p *pipeline) subscribe() <-chan originEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan originEvent, len(p.history)+subscriberBuffer)
	for _, ev := range p.history {
		ch <- ev
	}
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

func (p *pipeline) publish(ev originEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.history = append(p.history, ev)
	keep := p.subs[:0]
	for _, ch := range p.subs {
		select {
		case ch <- ev:
			keep = append(keep, ch)
		default:
			// Subscriber too slow; its edge treats the close as an abort.
			close(ch)
		}
	}
	p.subs = keep
	if ev.Done {
		p.closed = true
		for _, ch := range p.subs {
			close(ch)
		}
		p.subs = nil
	}
}

type originKey struct {
	sid string
	day string
}

// originJob is one day's worth of missing ranges to ingest.
type originJob struct {
	sid        fdsn.SID
	sampleRate float64
	day        time.Time
	missing    []timeRange
	options    streamOptions
}

// originCoordinator deduplicates concurrent origin pipelines per (SID, day)
// and runs them to completion independent of client lifetimes.
type originCoordinator struct {
	mu       sync.Mutex
	inflight map[originKey]*pipeline

	obj     objstore.Store
	indexes *dayindex.Store
	archive *fdsn.Client
	workers *pond.WorkerPool
	cfg     *ServerConfig
	ctx     context.Context
}

func newOriginCoordinator(ctx context.Context, obj objstore.Store, indexes *dayindex.Store,
	archive *fdsn.Client, workers *pond.WorkerPool, cfg *ServerConfig) *originCoordinator {
	return &originCoordinator{
		inflight: make(map[originKey]*pipeline),
		obj:      obj,
		indexes:  indexes,
		archive:  archive,
		workers:  workers,
		cfg:      cfg,
		ctx:      ctx,
	}
}

// process starts (or joins) the pipeline for job and returns a subscription.
// The pipeline runs on the server context so a client disconnect does not
// abandon a half-ingested day.
func (oc *originCoordinator) process(job originJob) <-chan originEvent {
	key := originKey{sid: job.sid.String(), day: job.day.Format("2006-01-02")}

	oc.mu.Lock()
	if p, ok := oc.inflight[key]; ok {
		oc.mu.Unlock()
		prometheusMW.coalescedJoins.Inc()
		return p.subscribe()
	}
	p := newPipeline()
	oc.inflight[key] = p
	oc.mu.Unlock()

	sub := p.subscribe()
	go func() {
		defer func() {
			oc.mu.Lock()
			delete(oc.inflight, key)
			oc.mu.Unlock()
		}()
		oc.run(p, job)
	}()
	return sub
}

// run executes fetch → normalize → build → upload → index for every missing
// range, publishing progress as it goes.
func (oc *originCoordinator) run(p *pipeline, job originJob) {
	log := slog.Default().With("component", "origin", "pipeline", p.id,
		"sid", job.sid.String(), "day", job.day.Format("2006-01-02"))
	ctx := oc.ctx

	update := dayindex.Update{
		SID:        job.sid,
		SampleRate: job.sampleRate,
		Day:        job.day,
		Chunks:     map[ladder.Tier][]dayindex.ChunkRef{},
	}
	okRanges := 0
	var lastErr error

	for _, rng := range job.missing {
		res, err := oc.ingestRange(ctx, &job, rng)
		if err != nil {
			log.Error("range ingest failed", "start", rng.Start, "end", rng.End, "err", err)
			p.publish(originEvent{ChunkErr: &chunkErrorEvent{
				Start:  rng.Start.UTC().Format(time.RFC3339),
				Reason: err.Error(),
			}})
			lastErr = err
			continue
		}
		if len(res.Samples) == 0 {
			continue
		}

		log.Debug("building chunk ladder", "start", res.Start, "end", res.End, "samples", len(res.Samples))
		var tiers map[ladder.Tier][]ladder.Chunk
		oc.onPool(func() {
			tiers, err = ladder.Build(res)
		})
		if err != nil {
			lastErr = err
			p.publish(originEvent{ChunkErr: &chunkErrorEvent{
				Start:  rng.Start.UTC().Format(time.RFC3339),
				Reason: err.Error(),
			}})
			continue
		}

		if err := oc.uploadTiers(ctx, p, &job, update.Chunks, tiers); err != nil {
			lastErr = err
			continue
		}
		for _, g := range res.Gaps {
			update.Gaps = append(update.Gaps, dayindex.NewGapRecord(g))
		}
		okRanges++
	}

	if okRanges == 0 && len(job.missing) > 0 {
		if lastErr == nil {
			lastErr = errNoUsableData
		}
		p.publish(originEvent{Done: true, Err: lastErr})
		return
	}

	update.SampleRate = job.sampleRate
	oc.enrichStationMeta(ctx, &update, log)

	merged, err := oc.indexes.MergeAndWrite(ctx, update)
	if err != nil {
		log.Error("day index write failed", "err", err)
		p.publish(originEvent{Done: true, Err: err})
		return
	}
	log.Info("day index updated", "complete_day", merged.CompleteDay, "ranges", okRanges)
	p.publish(originEvent{Index: merged})
	p.publish(originEvent{Done: true})
}

// ingestRange fetches one missing range and normalizes it into a contiguous
// array. Decode and merge run on the CPU pool so SSE flushing stays
// responsive.
func (oc *originCoordinator) ingestRange(ctx context.Context, job *originJob, rng timeRange) (normalize.Result, error) {
	data, err := oc.archive.FetchWaveform(ctx, job.sid, rng.Start, rng.End)
	switch {
	case errors.Is(err, fdsn.ErrNoData):
		prometheusMW.archiveFetches.WithLabelValues("nodata").Inc()
		return normalize.Synthetic(rng.Start, rng.End, job.sampleRate, 0), nil
	case err != nil:
		prometheusMW.archiveFetches.WithLabelValues("error").Inc()
		return normalize.Result{}, err
	}
	prometheusMW.archiveFetches.WithLabelValues("ok").Inc()
	prometheusMW.archiveBytes.Add(float64(len(data)))

	var res normalize.Result
	oc.onPool(func() {
		var segs []mseed.Segment
		segs, err = mseed.Parse(data)
		if err != nil {
			return
		}
		if sr := reportedRate(segs); sr > 0 && math.Abs(sr-job.sampleRate) > 0.01 {
			slog.Warn("archive reports different sample rate, adopting it",
				"assumed", job.sampleRate, "reported", sr, "sid", job.sid.String())
			job.sampleRate = sr
		}
		res, err = normalize.Normalize(segs, job.sampleRate, rng.Start, rng.End)
		if err == nil && job.options.HighpassHz > 0 {
			res.Samples = normalize.Highpass(res.Samples, job.sampleRate, job.options.HighpassHz)
		}
	})
	if errors.Is(err, normalize.ErrNoUsableData) {
		return normalize.Synthetic(rng.Start, rng.End, job.sampleRate, 0), nil
	}
	if err != nil {
		return normalize.Result{}, err
	}
	return res, nil
}

// uploadTiers uploads every chunk in tier order (finest first) and publishes
// a chunk_uploaded event per blob. Transient store failures are retried
// until the server shuts down; abandoning an upload would leak a
// cached-but-unindexed blob.
func (oc *originCoordinator) uploadTiers(ctx context.Context, p *pipeline, job *originJob,
	refs map[ladder.Tier][]dayindex.ChunkRef, tiers map[ladder.Tier][]ladder.Chunk) error {

	ttl := time.Duration(oc.cfg.PresignTTLS) * time.Second
	for _, tier := range ladder.Tiers {
		for _, chunk := range tiers[tier] {
			path := oc.indexes.ChunkPath(job.sid, job.sampleRate, job.day, chunk.Start, chunk.End)
			if err := oc.uploadBlob(ctx, path, chunk.Data); err != nil {
				p.publish(originEvent{ChunkErr: &chunkErrorEvent{
					Start:  chunk.Start.UTC().Format(time.RFC3339),
					Reason: fmt.Sprintf("upload: %s", err),
				}})
				return err
			}
			url, err := oc.obj.PresignGet(ctx, path, ttl)
			if err != nil {
				return fmt.Errorf("presign %s: %w", path, err)
			}
			prometheusMW.chunksUploaded.Inc()
			refs[tier] = append(refs[tier], dayindex.NewChunkRef(job.day, chunk))
			p.publish(originEvent{Uploaded: &chunkUploadedEvent{
				Tier:    string(tier),
				Start:   chunk.Start.UTC().Format(time.RFC3339),
				End:     chunk.End.UTC().Format(time.RFC3339),
				URL:     url,
				Cached:  false,
				Partial: chunk.Partial,
				Stats: chunkStats{
					Min:                chunk.Stats.Min,
					Max:                chunk.Stats.Max,
					Samples:            chunk.Stats.Samples,
					GapCount:           chunk.Stats.GapCount,
					GapDurationSeconds: chunk.Stats.GapDurationSeconds,
					GapSamplesFilled:   chunk.Stats.GapSamplesFilled,
				},
			}})
		}
	}
	return nil
}

// uploadBlob puts one immutable chunk, retrying transients without bound.
func (oc *originCoordinator) uploadBlob(ctx context.Context, path string, data []byte) error {
	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		MaxRetries: 0, // retry until the server context ends
	})
	for bo.Ongoing() {
		_, err := oc.obj.Put(ctx, path, data, objstore.PutOptions{
			ContentType: "application/octet-stream",
			Immutable:   true,
		})
		if err == nil {
			return nil
		}
		if !objstore.IsTransient(err) {
			return err
		}
		slog.Warn("chunk upload retry", "path", path, "attempt", bo.NumRetries(), "err", err)
		bo.Wait()
	}
	return bo.Err()
}

// enrichStationMeta fills optional station fields on the first write of a
// day index. Failures only cost the optional fields.
func (oc *originCoordinator) enrichStationMeta(ctx context.Context, update *dayindex.Update, log *slog.Logger) {
	existing, _, err := oc.indexes.Load(ctx, update.SID, update.Day)
	if err != nil || existing != nil {
		return
	}
	meta, err := oc.archive.StationMetadata(ctx, update.SID)
	if err != nil {
		log.Debug("station metadata lookup failed", "err", err)
		return
	}
	update.Meta = &meta
}

// onPool runs f on the CPU worker pool and waits for it.
func (oc *originCoordinator) onPool(f func()) {
	done := make(chan struct{})
	oc.workers.Submit(func() {
		defer close(done)
		f()
	})
	<-done
}

// reportedRate returns the sample rate the archive reported, or 0.
func reportedRate(segs []mseed.Segment) float64 {
	for _, seg := range segs {
		if seg.SampleRate > 0 {
			return seg.SampleRate
		}
	}
	return 0
}
