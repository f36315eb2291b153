// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package objstore provides access to immutable chunk blobs and small JSON
// objects addressed by path. Implementations exist for S3-compatible stores
// and the local filesystem.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDoesNotExist is returned when the named object is not in the store.
	ErrDoesNotExist = errors.New("object does not exist")
	// ErrPreconditionFailed is returned when a conditional put loses against
	// a concurrent writer.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size     int64
	ETag     string
	Modified time.Time
}

// PutOptions control conditional and immutable writes.
type PutOptions struct {
	ContentType string
	// Immutable objects are written with if-none-match semantics and a long
	// cache lifetime. A put that finds the object already present succeeds
	// without overwriting, so upload retries stay idempotent.
	Immutable bool
	// IfMatchETag makes the write conditional on the current object version.
	// Used for read-merge-rewrite of day indexes.
	IfMatchETag string
	// IfNoneMatch makes the write fail with ErrPreconditionFailed when the
	// object already exists. Unlike Immutable, a lost race surfaces to the
	// caller so it can reload and merge.
	IfNoneMatch bool
}

// Store is the object store adapter. All operations are idempotent.
// A put that returns success is durably visible to subsequent gets.
type Store interface {
	Put(ctx context.Context, name string, data []byte, opts PutOptions) (etag string, err error)
	Get(ctx context.Context, name string) ([]byte, error)
	GetWithInfo(ctx context.Context, name string) ([]byte, ObjectInfo, error)
	Head(ctx context.Context, name string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]string, error)
	PresignGet(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// TransientError marks a failure worth retrying (throttling, timeouts, 5xx).
type TransientError struct {
	Err error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient: %s", e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}
