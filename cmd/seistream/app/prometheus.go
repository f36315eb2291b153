// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000, 20000, 60000}
	prometheusMW   prometheusMiddleware
)

const (
	streamReqsName     = "stream_requests_total"
	streamLatencyName  = "stream_request_duration_milliseconds"
	chunksUploadedName = "chunks_uploaded_total"
	chunksCachedName   = "chunks_served_cached_total"
	archiveFetchName   = "archive_fetches_total"
	archiveBytesName   = "archive_bytes_fetched_total"
	coalescedName      = "origin_coalesced_joins_total"
	activeStreamsName  = "active_streams"
	service            = "seistream"
)

// prometheusMiddleware provides a handler that exposes prometheus metrics for
// stream and archive activity.
type prometheusMiddleware struct {
	streamReqs     *prometheus.CounterVec
	streamLatency  *prometheus.HistogramVec
	chunksUploaded prometheus.Counter
	chunksCached   prometheus.Counter
	archiveFetches *prometheus.CounterVec
	archiveBytes   prometheus.Counter
	coalescedJoins prometheus.Counter
	activeStreams  prometheus.Gauge
}

func init() {
	prometheusMW.streamReqs = newCounterVec(streamReqsName,
		"Number of stream requests processed, partitioned by status code.", service, []string{"code"})
	prometheusMW.streamLatency = newHistogram(streamLatencyName,
		"Stream request duration until completion.", service, defaultBuckets)
	prometheusMW.chunksUploaded = newCounter(chunksUploadedName,
		"Number of chunk blobs written to the object store.", service)
	prometheusMW.chunksCached = newCounter(chunksCachedName,
		"Number of chunks served directly from the cache.", service)
	prometheusMW.archiveFetches = newCounterVec(archiveFetchName,
		"Number of archive fetches, partitioned by outcome.", service, []string{"outcome"})
	prometheusMW.archiveBytes = newCounter(archiveBytesName,
		"Bytes of raw waveform data fetched from the archive.", service)
	prometheusMW.coalescedJoins = newCounter(coalescedName,
		"Number of requests that joined an already-running origin pipeline.", service)
	prometheusMW.activeStreams = newGauge(activeStreamsName,
		"Currently open SSE streams.", service)
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if !strings.HasSuffix(path, "/request-stream") {
			return
		}
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		mw.streamReqs.WithLabelValues(status).Inc()
		mw.streamLatency.WithLabelValues(status).Observe(latencyMS)
	}
	return http.HandlerFunc(fn)
}

func newCounter(name, help, serviceName string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	prometheus.MustRegister(c)
	return c
}

func newCounterVec(name, help, serviceName string, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		labels,
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(name, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}

func newGauge(name, help, serviceName string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	prometheus.MustRegister(g)
	return g
}
