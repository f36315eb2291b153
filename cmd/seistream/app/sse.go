// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSE event types. Clients must treat unknown types as ignorable.
const (
	evMetadataCalculated = "metadata_calculated"
	evChunkData          = "chunk_data"
	evChunkUploaded      = "chunk_uploaded"
	evRangeUpdate        = "range_update"
	evChunkError         = "chunk_error"
	evOriginError        = "origin_error"
	evComplete           = "complete"
)

type metadataEvent struct {
	Min          int32          `json:"min"`
	Max          int32          `json:"max"`
	Partial      bool           `json:"partial"`
	CachedCount  int            `json:"cached_count"`
	MissingCount int            `json:"missing_count"`
	SampleRate   float64        `json:"sample_rate"`
	Tier         string         `json:"tier"`
	Selection    []chunkSummary `json:"chunk_selection"`
}

// chunkSummary is one entry of the chunk_selection list in
// metadata_calculated.
type chunkSummary struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Cached  bool   `json:"cached"`
	Partial bool   `json:"partial,omitempty"`
}

type chunkDataEvent struct {
	Tier    string `json:"tier"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Cached  bool   `json:"cached"`
	Partial bool   `json:"partial,omitempty"`
	Samples int    `json:"samples"`
	// Bytes is the base64 of a 4-byte big-endian length prefix followed by
	// the compressed chunk payload, so clients can reassemble the frame
	// across arbitrary TCP boundaries.
	Bytes string `json:"bytes"`
}

type chunkUploadedEvent struct {
	Tier    string     `json:"tier"`
	Start   string     `json:"start"`
	End     string     `json:"end"`
	URL     string     `json:"url"`
	Cached  bool       `json:"cached"`
	Partial bool       `json:"partial,omitempty"`
	Stats   chunkStats `json:"stats"`
}

type chunkStats struct {
	Min                int32   `json:"min"`
	Max                int32   `json:"max"`
	Samples            int     `json:"samples"`
	GapCount           int     `json:"gap_count"`
	GapDurationSeconds float64 `json:"gap_duration_seconds"`
	GapSamplesFilled   int     `json:"gap_samples_filled"`
}

type rangeUpdateEvent struct {
	Min int32 `json:"min"`
	Max int32 `json:"max"`
}

type chunkErrorEvent struct {
	Start  string `json:"start"`
	Reason string `json:"reason"`
}

type originErrorEvent struct {
	Reason string `json:"reason"`
}

type completeEvent struct {
	Status        string `json:"status"`
	EmittedChunks int    `json:"emitted_chunks"`
}

const (
	statusOK      = "ok"
	statusAborted = "aborted"
)

// sseWriter frames server-sent events. Each event is one logical write
// followed by a flush; the transport may still split it, which is why
// binary payloads carry their own length prefix.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	emitted int
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event as a single Write and flushes it.
func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	s.emitted++
	return nil
}

// frameChunkBytes prefixes payload with its length and base64-encodes the
// frame for the chunk_data event.
func frameChunkBytes(payload []byte) string {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return base64.StdEncoding.EncodeToString(frame)
}
