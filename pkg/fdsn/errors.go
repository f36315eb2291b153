// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fdsn

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData means the archive holds no samples for the window. The caller
	// treats the window as an all-gap interval.
	ErrNoData = errors.New("archive has no data for window")
	// ErrOversized means the archive refused the window size. The fetcher
	// bisects and recurses.
	ErrOversized = errors.New("archive refused window size")
)

// TransientError marks a retryable archive failure (throttling, 5xx, network).
type TransientError struct {
	Err error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient archive error: %s", e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried against the archive.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}
