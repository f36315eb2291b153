// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package s3

import "time"

// Config for an S3-compatible object store.
//
// Credentials are not part of the config surface. They are resolved from the
// environment (SEISTREAM_S3_ACCESS_KEY / SEISTREAM_S3_SECRET_KEY, then the
// standard AWS variables and credential files).
type Config struct {
	Endpoint          string        `json:"endpoint"`
	Region            string        `json:"region"`
	Bucket            string        `json:"bucket"`
	Insecure          bool          `json:"insecure"`
	ForcePathStyle    bool          `json:"forcepathstyle"`
	HedgeRequestsAt   time.Duration `json:"hedgerequestsAt"`
	HedgeRequestsUpTo int           `json:"hedgerequestsUpTo"`
}
