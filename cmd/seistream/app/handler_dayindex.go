// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"time"

	"github.com/earscope/seistream/pkg/fdsn"
)

// dayIndexHandlerFunc handles GET /day-index?network=&station=&location=&
// channel=&date=YYYY-MM-DD. It exposes the stored manifest for inspection
// and for clients that want to plan ahead of streaming.
func (s *Server) dayIndexHandlerFunc(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sid := fdsn.SID{
		Network:  q.Get("network"),
		Station:  q.Get("station"),
		Location: normalizeLocation(q.Get("location")),
		Channel:  q.Get("channel"),
	}
	if err := sid.Validate(); err != nil {
		s.jsonResponse(w, map[string]string{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", q.Get("date"), time.UTC)
	if err != nil {
		s.jsonResponse(w, map[string]string{"error": "bad date, want YYYY-MM-DD"}, http.StatusBadRequest)
		return
	}

	ix, _, err := s.indexes.Load(r.Context(), sid, day)
	if err != nil {
		s.jsonResponse(w, map[string]string{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	if ix == nil {
		s.jsonResponse(w, map[string]string{"error": "no index for that day"}, http.StatusNotFound)
		return
	}
	s.jsonResponse(w, ix, http.StatusOK)
}
