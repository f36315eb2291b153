// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package local is a filesystem object store used for development and tests.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earscope/seistream/pkg/objstore"
)

// Store keeps objects as files under a root directory. Conditional put
// semantics are emulated under a store-wide mutex, which is enough since
// only one process writes in local mode.
type Store struct {
	root    string
	baseURL string
	mu      sync.Mutex
}

var _ objstore.Store = (*Store)(nil)

// New creates a local store rooted at root. baseURL is prepended to presigned
// paths so clients can fetch blobs from the server's own blob route.
func New(root, baseURL string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	return &Store{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func (s *Store) filePath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *Store) Put(ctx context.Context, name string, data []byte, opts objstore.PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := s.filePath(name)
	existing, err := os.ReadFile(fp)
	exists := err == nil

	if opts.Immutable && exists {
		// Idempotent re-put of an immutable blob.
		return etagOf(existing), nil
	}
	if opts.IfNoneMatch && exists {
		return "", objstore.ErrPreconditionFailed
	}
	if opts.IfMatchETag != "" {
		if !exists || etagOf(existing) != opts.IfMatchETag {
			return "", objstore.ErrPreconditionFailed
		}
	}

	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return "", fmt.Errorf("mkdir for %s: %w", name, err)
	}
	tmp := fp + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, fp); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return etagOf(data), nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, _, err := s.GetWithInfo(ctx, name)
	return data, err
}

func (s *Store) GetWithInfo(ctx context.Context, name string) ([]byte, objstore.ObjectInfo, error) {
	fp := s.filePath(name)
	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objstore.ObjectInfo{}, objstore.ErrDoesNotExist
		}
		return nil, objstore.ObjectInfo{}, fmt.Errorf("read %s: %w", name, err)
	}
	st, err := os.Stat(fp)
	if err != nil {
		return nil, objstore.ObjectInfo{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return data, objstore.ObjectInfo{Size: st.Size(), ETag: etagOf(data), Modified: st.ModTime()}, nil
}

func (s *Store) Head(ctx context.Context, name string) (objstore.ObjectInfo, error) {
	_, info, err := s.GetWithInfo(ctx, name)
	return info, err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) && !strings.HasSuffix(name, ".tmp") {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) PresignGet(ctx context.Context, name string, ttl time.Duration) (string, error) {
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", s.baseURL, path.Clean(name), expires), nil
}
