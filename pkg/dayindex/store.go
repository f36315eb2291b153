// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dayindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/earscope/seistream/pkg/fdsn"
	"github.com/earscope/seistream/pkg/objstore"
)

// GroupingFunc maps a station to its storage grouping tag (e.g. a volcano
// name). The core treats the tag as opaque.
type GroupingFunc func(fdsn.SID) string

// Store reads and rewrites day indexes in the object store. Index writes are
// serialized per (SID, day) via etag compare-and-swap.
type Store struct {
	obj      objstore.Store
	grouping GroupingFunc
}

// NewStore creates a day index store.
func NewStore(obj objstore.Store, grouping GroupingFunc) *Store {
	return &Store{obj: obj, grouping: grouping}
}

// IndexPath is the object path of the (SID, day) index.
func (s *Store) IndexPath(sid fdsn.SID, day time.Time) string {
	return StoragePrefix(sid, s.grouping(sid), day) + "/" + IndexObjectName(day)
}

// ChunkPath is the object path of one chunk blob.
func (s *Store) ChunkPath(sid fdsn.SID, sampleRate float64, day, start, end time.Time) string {
	return StoragePrefix(sid, s.grouping(sid), day) + "/" + ChunkObjectName(sid, sampleRate, start, end)
}

// Load returns the day index, or (nil, "") when none exists yet.
func (s *Store) Load(ctx context.Context, sid fdsn.SID, day time.Time) (*Index, string, error) {
	data, info, err := s.obj.GetWithInfo(ctx, s.IndexPath(sid, day))
	if errors.Is(err, objstore.ErrDoesNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load day index: %w", err)
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, "", fmt.Errorf("parse day index %s: %w", s.IndexPath(sid, day), err)
	}
	return &ix, info.ETag, nil
}

// MergeAndWrite folds update into the stored index under compare-and-swap.
// A lost race reloads and retries with the merge reapplied, up to a small
// bound.
func (s *Store) MergeAndWrite(ctx context.Context, update Update) (*Index, error) {
	path := s.IndexPath(update.SID, update.Day)

	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: 50 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		MaxRetries: 8,
	})
	for bo.Ongoing() {
		existing, etag, err := s.Load(ctx, update.SID, update.Day)
		if err != nil {
			return nil, err
		}
		merged := Merge(existing, update, time.Now())
		if existing != nil {
			// Preserve the original creation stamp across rewrites.
			merged.CreatedAt = existing.CreatedAt
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("marshal day index: %w", err)
		}

		opts := objstore.PutOptions{ContentType: "application/json"}
		if etag == "" {
			opts.IfNoneMatch = true
		} else {
			opts.IfMatchETag = etag
		}
		_, err = s.obj.Put(ctx, path, data, opts)
		switch {
		case err == nil:
			return merged, nil
		case errors.Is(err, objstore.ErrPreconditionFailed):
			bo.Wait()
		case objstore.IsTransient(err):
			bo.Wait()
		default:
			return nil, fmt.Errorf("write day index %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("day index write for %s did not settle: %w", path, bo.Err())
}
