// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alitto/pond"
	"github.com/go-chi/chi/v5"

	"github.com/earscope/seistream/pkg/dayindex"
	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/objstore"

	_ "net/http/pprof"
)

type Server struct {
	Router  *chi.Mux
	Cfg     *ServerConfig
	obj     objstore.Store
	indexes *dayindex.Store
	archive *fdsn.Client
	workers *pond.WorkerPool
	origin  *originCoordinator
	edge    *edge
	limiter *IPStreamLimiter
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, true, http.StatusOK)
}

// jsonResponse marshals message and give response with code
//
// Don't add any more content after this since Content-Length is set
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{message: \"%s\"}", err), http.StatusInternalServerError)
		slog.Error(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	_, err = w.Write(raw)
	if err != nil {
		slog.Error("could not write HTTP response", "err", err)
	}
}
