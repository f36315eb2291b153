// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// blobHandlerFunc serves chunk blobs for the local store backend. Presigned
// local URLs carry an expires query which is enforced here.
func (s *Server) blobHandlerFunc(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" || strings.Contains(name, "..") {
		http.Error(w, "bad blob name", http.StatusBadRequest)
		return
	}

	if exp := r.URL.Query().Get("expires"); exp != "" {
		unix, err := strconv.ParseInt(exp, 10, 64)
		if err != nil || time.Now().Unix() > unix {
			http.Error(w, "link expired", http.StatusForbidden)
			return
		}
	}

	fp := filepath.Join(s.Cfg.LocalRoot, filepath.FromSlash(name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, fp)
}
