// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import "net/http"

// configHandlerFunc returns the active server configuration.
func (s *Server) configHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.Cfg, http.StatusOK)
}
