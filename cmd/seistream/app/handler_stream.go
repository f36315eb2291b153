// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/earscope/seistream/pkg/logging"
)

// streamHandlerFunc handles POST /request-stream. Validation failures are
// plain JSON errors; once validation passes the response switches to SSE
// and all further outcomes are events.
func (s *Server) streamHandlerFunc(w http.ResponseWriter, r *http.Request) {
	log := logging.SubLoggerWithRequestID(slog.Default(), r)

	req, err := parseStreamRequest(r.Body, time.Duration(s.Cfg.MaxDurationS)*time.Second)
	if err != nil {
		var verr validationError
		status := http.StatusInternalServerError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
		s.jsonResponse(w, map[string]string{"error": err.Error()}, status)
		return
	}
	log = log.With("sid", req.SID.String(),
		"start", req.Start.Format(time.RFC3339), "duration", req.Duration.String())

	sw, err := newSSEWriter(w)
	if err != nil {
		log.Error("cannot open event stream", "err", err)
		s.jsonResponse(w, map[string]string{"error": "event streaming unsupported"}, http.StatusInternalServerError)
		return
	}

	prometheusMW.activeStreams.Inc()
	defer prometheusMW.activeStreams.Dec()

	log.Info("stream opened")
	if err := s.edge.serveStream(r.Context(), sw, req, log); err != nil {
		log.Warn("stream ended early", "err", err)
		return
	}
	log.Info("stream complete")
}
