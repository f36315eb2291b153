// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package fdsn fetches raw waveform windows and station metadata from FDSN
// dataselect and station web services.
package fdsn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/sony/gobreaker/v2"
)

const (
	dataselectPath = "/fdsnws/dataselect/1/query"
	stationPath    = "/fdsnws/station/1/query"

	// timeFormat is the FDSN query time format.
	timeFormat = "2006-01-02T15:04:05"
)

// Config for the archive client.
type Config struct {
	BaseURL string `json:"baseurl"`
	// UserAgent identifies this service to the archive operators.
	UserAgent string `json:"useragent"`
	// MaxFetchSeconds is the largest window requested in one dataselect call.
	MaxFetchSeconds int `json:"maxfetchS"`
	// MaxConcurrent bounds parallel archive requests to respect rate limits.
	MaxConcurrent int `json:"maxconcurrent"`
	// TimeoutS is the per-request HTTP timeout.
	TimeoutS int `json:"timeoutS"`
}

// DefaultConfig targets the IRIS FDSN services.
var DefaultConfig = Config{
	BaseURL:         "https://service.iris.edu",
	UserAgent:       "seistream/0.3 (https://github.com/earscope/seistream)",
	MaxFetchSeconds: 6 * 3600,
	MaxConcurrent:   4,
	TimeoutS:        120,
}

// Client talks to one FDSN archive. A circuit breaker trips on sustained
// infrastructure failures so a sick archive is not hammered by every origin
// pipeline at once.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	sem        chan struct{}
	log        *slog.Logger
}

// NewClient creates an archive client.
func NewClient(cfg Config) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig.MaxConcurrent
	}
	if cfg.MaxFetchSeconds <= 0 {
		cfg.MaxFetchSeconds = DefaultConfig.MaxFetchSeconds
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig.UserAgent
	}
	st := gobreaker.Settings{
		Name:    "fdsn-dataselect",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		IsSuccessful: func(err error) bool {
			// Only infrastructure failures count against the breaker.
			return err == nil || !IsTransient(err)
		},
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutS) * time.Second},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](st),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		log:        slog.Default().With("component", "fdsn"),
	}
}

// FetchWaveform returns the raw archive byte stream for [start, end).
// Both times must be whole seconds and start < end. Oversized responses from
// the archive are handled by bisecting the window and concatenating the
// halves; miniSEED records concatenate without framing.
func (c *Client) FetchWaveform(ctx context.Context, sid SID, start, end time.Time) ([]byte, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s not before end %s", start, end)
	}
	if start.Nanosecond() != 0 || end.Nanosecond() != 0 {
		return nil, fmt.Errorf("window not on whole seconds")
	}
	maxWindow := time.Duration(c.cfg.MaxFetchSeconds) * time.Second
	if end.Sub(start) > maxWindow {
		return c.bisect(ctx, sid, start, end)
	}

	data, err := c.fetchWithRetry(ctx, sid, start, end)
	if err == ErrOversized {
		return c.bisect(ctx, sid, start, end)
	}
	return data, err
}

func (c *Client) bisect(ctx context.Context, sid SID, start, end time.Time) ([]byte, error) {
	mid := start.Add(end.Sub(start) / 2).Truncate(time.Second)
	if !mid.After(start) || !mid.Before(end) {
		return nil, fmt.Errorf("cannot bisect window %s..%s further", start, end)
	}
	c.log.Debug("bisecting archive window", "sid", sid.String(), "start", start, "mid", mid, "end", end)
	first, errFirst := c.FetchWaveform(ctx, sid, start, mid)
	second, errSecond := c.FetchWaveform(ctx, sid, mid, end)
	switch {
	case errFirst == ErrNoData && errSecond == ErrNoData:
		return nil, ErrNoData
	case errFirst != nil && errFirst != ErrNoData:
		return nil, errFirst
	case errSecond != nil && errSecond != ErrNoData:
		return nil, errSecond
	}
	return append(first, second...), nil
}

// fetchWithRetry runs one dataselect query with bounded backoff on
// transient failures.
func (c *Client) fetchWithRetry(ctx context.Context, sid SID, start, end time.Time) ([]byte, error) {
	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 16 * time.Second,
		MaxRetries: 6,
	})
	var lastErr error
	for bo.Ongoing() {
		data, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetchOnce(ctx, sid, start, end)
		})
		switch {
		case err == nil:
			return data, nil
		case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
			lastErr = TransientError{Err: err}
		case IsTransient(err):
			lastErr = err
		default:
			return nil, err
		}
		c.log.Warn("archive fetch retry", "sid", sid.String(), "attempt", bo.NumRetries(), "err", lastErr)
		bo.Wait()
	}
	if lastErr == nil {
		lastErr = bo.Err()
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, sid SID, start, end time.Time) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q := url.Values{}
	q.Set("net", sid.Network)
	q.Set("sta", sid.Station)
	q.Set("loc", sid.QueryLocation())
	q.Set("cha", sid.Channel)
	q.Set("start", start.UTC().Format(timeFormat))
	q.Set("end", end.UTC().Format(timeFormat))
	q.Set("format", "miniseed")

	data, _, err := c.doGet(ctx, c.cfg.BaseURL+dataselectPath+"?"+q.Encode())
	return data, err
}

// doGet performs one GET and maps the response to the error taxonomy.
func (c *Client) doGet(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, ErrNoData
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, resp.StatusCode, ErrOversized
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, resp.StatusCode, TransientError{Err: fmt.Errorf("archive status %d", resp.StatusCode)}
	default:
		return nil, resp.StatusCode, fmt.Errorf("archive status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, TransientError{Err: fmt.Errorf("read archive body: %w", err)}
	}
	if len(data) == 0 {
		return nil, resp.StatusCode, ErrNoData
	}
	return data, resp.StatusCode, nil
}
