// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"errors"
	"fmt"
)

var errNoUsableData = errors.New("request yielded no usable data")

// validationError is a bad request; no stream is opened for it.
type validationError struct {
	msg string
}

func newValidationError(format string, args ...any) validationError {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

func (e validationError) Error() string {
	return e.msg
}
