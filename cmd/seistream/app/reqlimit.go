// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"net"
	"net/http"
	"sync"
)

// IPStreamLimiter bounds concurrently open SSE streams per client IP.
// Unlike a rate window, a stream slot is held for the whole response.
type IPStreamLimiter struct {
	maxStreams int
	open       map[string]int
	mux        sync.Mutex
}

// NewIPStreamLimiter returns a limiter allowing maxStreams concurrent
// streams per IP.
func NewIPStreamLimiter(maxStreams int) *IPStreamLimiter {
	return &IPStreamLimiter{
		maxStreams: maxStreams,
		open:       make(map[string]int),
	}
}

// Acquire takes a stream slot for ip. The release function must be called
// when the stream ends.
func (il *IPStreamLimiter) Acquire(ip string) (release func(), ok bool) {
	il.mux.Lock()
	defer il.mux.Unlock()
	if il.open[ip] >= il.maxStreams {
		return nil, false
	}
	il.open[ip]++
	var once sync.Once
	return func() {
		once.Do(func() {
			il.mux.Lock()
			defer il.mux.Unlock()
			il.open[ip]--
			if il.open[ip] <= 0 {
				delete(il.open, ip)
			}
		})
	}, true
}

// NewLimiterMiddleware wraps a handler with the per-IP concurrent stream
// limit. An HTTP response 429 Too Many Requests is generated when the IP
// already holds the maximum number of open streams.
func NewLimiterMiddleware(hdrName string, limiter *IPStreamLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ip, err := getIP(r)
			if err != nil {
				http.Error(w, "could not read client IP", http.StatusBadRequest)
				return
			}
			release, ok := limiter.Acquire(ip)
			if !ok {
				if hdrName != "" {
					w.Header().Set(hdrName, fmt.Sprintf("max %d concurrent streams", limiter.maxStreams))
				}
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func getIP(req *http.Request) (string, error) {
	forwardIP := req.Header.Get("X-Forwarded-For")
	if forwardIP != "" {
		return forwardIP, nil
	}
	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return "", err
	}
	userIP := net.ParseIP(ip)
	if userIP == nil {
		return "", fmt.Errorf("no IP found")
	}
	return userIP.String(), nil
}
