// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/earscope/seistream/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.MethodFunc("GET", "/config", s.configHandlerFunc)
	s.Router.MethodFunc("GET", "/day-index", s.dayIndexHandlerFunc)
	s.Router.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)

	streamHandler := http.HandlerFunc(s.streamHandlerFunc)
	if s.limiter != nil {
		mw := NewLimiterMiddleware("Seistream-Streams", s.limiter)
		s.Router.Method("POST", "/request-stream", mw(streamHandler))
	} else {
		s.Router.Method("POST", "/request-stream", streamHandler)
	}

	// The local backend serves its own blobs; presigned URLs point here.
	if s.Cfg.Store == "local" {
		s.Router.MethodFunc("GET", "/blob/*", s.blobHandlerFunc)
		s.Router.MethodFunc("HEAD", "/blob/*", s.blobHandlerFunc)
	}
	return nil
}

func (s *Server) optionsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}
