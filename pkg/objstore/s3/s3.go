// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cristalhq/hedgedhttp"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/earscope/seistream/pkg/objstore"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// Store reads and writes objects in one S3 bucket. Reads go through a
// hedged client so one slow replica does not stall the SSE fan-out.
type Store struct {
	cfg          Config
	client       *minio.Client
	hedgedClient *minio.Client
}

var _ objstore.Store = (*Store)(nil)

// New creates a Store and verifies the bucket is reachable.
func New(cfg Config) (*Store, error) {
	client, err := createClient(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	hedgedClient, err := createClient(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("create hedged s3 client: %w", err)
	}
	ok, err := client.BucketExists(context.Background(), cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}
	return &Store{cfg: cfg, client: client, hedgedClient: hedgedClient}, nil
}

func createClient(cfg Config, hedge bool) (*minio.Client, error) {
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     os.Getenv("SEISTREAM_S3_ACCESS_KEY"),
				SecretAccessKey: os.Getenv("SEISTREAM_S3_SECRET_KEY"),
			},
		},
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
	})

	transport, err := minio.DefaultTransport(!cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("create default transport: %w", err)
	}

	var rt http.RoundTripper = transport
	if hedge && cfg.HedgeRequestsAt != 0 {
		rt, _, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, rt)
		if err != nil {
			return nil, err
		}
	}

	opts := &minio.Options{
		Region:    cfg.Region,
		Secure:    !cfg.Insecure,
		Creds:     creds,
		Transport: rt,
	}
	if cfg.ForcePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	return minio.New(cfg.Endpoint, opts)
}

// Put writes data under name. Immutable puts are conditional on the object
// not existing yet; finding it already present counts as success so upload
// retries after an ambiguous failure stay idempotent.
func (s *Store) Put(ctx context.Context, name string, data []byte, opts objstore.PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.Immutable {
		putOpts.CacheControl = immutableCacheControl
		putOpts.SetMatchETagExcept("*")
	}
	if opts.IfNoneMatch {
		putOpts.SetMatchETagExcept("*")
	}
	if opts.IfMatchETag != "" {
		putOpts.SetMatchETag(opts.IfMatchETag)
	}

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, name, bytes.NewReader(data), int64(len(data)), putOpts)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed" {
			if opts.Immutable {
				// Blob already there from an earlier attempt.
				existing, herr := s.Head(ctx, name)
				if herr == nil {
					return existing.ETag, nil
				}
			}
			return "", objstore.ErrPreconditionFailed
		}
		return "", classify(fmt.Errorf("put %s: %w", name, err))
	}
	return info.ETag, nil
}

// Get returns the full object content.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, _, err := s.GetWithInfo(ctx, name)
	return data, err
}

// GetWithInfo returns the object content together with its etag, for
// read-merge-rewrite cycles.
func (s *Store) GetWithInfo(ctx context.Context, name string) ([]byte, objstore.ObjectInfo, error) {
	obj, err := s.hedgedClient.GetObject(ctx, s.cfg.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, objstore.ObjectInfo{}, classify(readError(name, err))
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, objstore.ObjectInfo{}, classify(readError(name, err))
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, objstore.ObjectInfo{}, classify(fmt.Errorf("read %s: %w", name, err))
	}
	return data, objstore.ObjectInfo{Size: stat.Size, ETag: stat.ETag, Modified: stat.LastModified}, nil
}

// Head returns object metadata without the content.
func (s *Store) Head(ctx context.Context, name string) (objstore.ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.cfg.Bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return objstore.ObjectInfo{}, classify(readError(name, err))
	}
	return objstore.ObjectInfo{Size: stat.Size, ETag: stat.ETag, Modified: stat.LastModified}, nil
}

// List returns all object names under prefix. Paging is handled by the
// minio client internally.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classify(fmt.Errorf("list %s: %w", prefix, obj.Err))
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// PresignGet returns a time-limited GET URL for name.
func (s *Store) PresignGet(ctx context.Context, name string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, name, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return u.String(), nil
}

func readError(name string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return objstore.ErrDoesNotExist
	}
	return fmt.Errorf("%s: %w", name, err)
}

// classify wraps retryable failures in TransientError. Anything the S3 API
// answers with 5xx or 429 is worth retrying, as is any plain network error.
func classify(err error) error {
	if err == nil || errors.Is(err, objstore.ErrDoesNotExist) {
		return err
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		if resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.Code == "SlowDown" {
			return objstore.TransientError{Err: err}
		}
		return err
	}
	// No structured S3 response means the request never completed.
	return objstore.TransientError{Err: err}
}
