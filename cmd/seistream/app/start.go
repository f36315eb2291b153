// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earscope/seistream/internal"
	"github.com/earscope/seistream/pkg/dayindex"
	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/logging"
	"github.com/earscope/seistream/pkg/objstore"
	"github.com/earscope/seistream/pkg/objstore/local"
	"github.com/earscope/seistream/pkg/objstore/s3"
)

// SetupServer sets up router, middleware, and server, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())

	// Add prometheus counters
	r.Mount("/metrics", promhttp.Handler())

	obj, err := setupObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	indexes := dayindex.NewStore(obj, func(sid fdsn.SID) string {
		return cfg.Grouping
	})

	archive := fdsn.NewClient(fdsn.Config{
		BaseURL:         cfg.ArchiveURL,
		UserAgent:       cfg.ArchiveUserAgent,
		MaxFetchSeconds: cfg.MaxFetchS,
		MaxConcurrent:   cfg.MaxFetches,
		TimeoutS:        cfg.ArchiveTimeoutS,
	})

	workers := pond.New(cfg.Workers, 1024)

	origin := newOriginCoordinator(ctx, obj, indexes, archive, workers, cfg)
	srvEdge := &edge{
		indexes: indexes,
		obj:     obj,
		origin:  origin,
		cfg:     cfg,
		now:     time.Now,
	}

	var limiter *IPStreamLimiter
	if cfg.MaxStreams > 0 {
		limiter = NewIPStreamLimiter(cfg.MaxStreams)
	}

	server := Server{
		Router:  r,
		Cfg:     cfg,
		obj:     obj,
		indexes: indexes,
		archive: archive,
		workers: workers,
		origin:  origin,
		edge:    srvEdge,
		limiter: limiter,
	}

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	slog.Info("seistream starting", "version", internal.GetVersion(), "port", cfg.Port,
		"store", cfg.Store, "archive", cfg.ArchiveURL)
	return &server, nil
}

func setupObjectStore(cfg *ServerConfig) (objstore.Store, error) {
	switch cfg.Store {
	case "local":
		return local.New(cfg.LocalRoot, cfg.ExternalURL)
	case "s3":
		return s3.New(s3.Config{
			Endpoint:          cfg.S3Endpoint,
			Region:            cfg.S3Region,
			Bucket:            cfg.S3Bucket,
			Insecure:          cfg.S3Insecure,
			ForcePathStyle:    cfg.S3ForcePathStyle,
			HedgeRequestsAt:   time.Duration(cfg.S3HedgeMS) * time.Millisecond,
			HedgeRequestsUpTo: cfg.S3HedgeUpTo,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
