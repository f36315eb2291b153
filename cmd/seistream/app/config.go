// Copyright 2025, Earscope. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/earscope/seistream/pkg/logging"
)

type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	CertPath  string `json:"certpath"`
	KeyPath   string `json:"keypath"`

	// MaxDurationS is the policy ceiling for one stream request.
	MaxDurationS int `json:"maxdurationS"`
	// MaxStreams bounds concurrent SSE streams per client IP. 0 disables.
	MaxStreams int `json:"maxstreams"`
	// OriginWaitS is how long the edge waits for origin progress before
	// declaring the stream aborted.
	OriginWaitS int `json:"originwaitS"`
	// DefaultSampleRate is assumed for stations not yet seen in the cache.
	DefaultSampleRate float64 `json:"defaultsamplerate"`
	// Grouping is the storage path grouping tag for all stations.
	Grouping string `json:"grouping"`
	// Workers sizes the CPU pool for decode/normalize/compress work.
	Workers int `json:"workers"`
	// PresignTTLS is the lifetime of presigned chunk URLs.
	PresignTTLS int `json:"presignttlS"`

	// Store selects the object store backend: "s3" or "local".
	Store string `json:"store"`
	// LocalRoot is the blob directory for the local backend.
	LocalRoot string `json:"localroot"`
	// ExternalURL prefixes presigned paths served by the local backend.
	ExternalURL string `json:"externalurl"`

	S3Endpoint       string `json:"s3endpoint"`
	S3Region         string `json:"s3region"`
	S3Bucket         string `json:"s3bucket"`
	S3Insecure       bool   `json:"s3insecure"`
	S3ForcePathStyle bool   `json:"s3forcepathstyle"`
	S3HedgeMS        int    `json:"s3hedgeMS"`
	S3HedgeUpTo      int    `json:"s3hedgeupto"`

	ArchiveURL       string `json:"archiveurl"`
	ArchiveUserAgent string `json:"archiveuseragent"`
	ArchiveTimeoutS  int    `json:"archivetimeoutS"`
	MaxFetchS        int    `json:"maxfetchS"`
	MaxFetches       int    `json:"maxfetches"`
}

var DefaultConfig = ServerConfig{
	LogFormat:         "pretty",
	LogLevel:          "INFO",
	Port:              8877,
	MaxDurationS:      24 * 3600,
	MaxStreams:        8,
	OriginWaitS:       60,
	DefaultSampleRate: 100,
	Grouping:          "volcano",
	Workers:           4,
	PresignTTLS:       3600,
	Store:             "local",
	LocalRoot:         "./blobs",
	ExternalURL:       "http://localhost:8877/blob",
	ArchiveURL:        "https://service.iris.edu",
	ArchiveTimeoutS:   120,
	MaxFetchS:         6 * 3600,
	MaxFetches:        4,
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables (SEISTREAM_*).
//
// LocalRoot is made absolute relative to cwd.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	if err := k.Load(structs.Provider(defaults, "json"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	f := pflag.NewFlagSet("seistream", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.String("store", k.String("store"), "object store backend [s3, local]")
	f.String("localroot", k.String("localroot"), "blob root directory for the local backend")
	f.String("s3bucket", k.String("s3bucket"), "S3 bucket name")
	f.String("s3endpoint", k.String("s3endpoint"), "S3 endpoint host")
	f.String("archiveurl", k.String("archiveurl"), "FDSN archive base URL")
	f.Int("maxduration", k.Int("maxdurationS"), "max request duration (seconds)")
	f.Int("workers", k.Int("workers"), "CPU worker pool size")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with commandline parameters
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables
	if err := k.Load(env.Provider("SEISTREAM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SEISTREAM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	localRoot := k.String("localroot")
	if localRoot != "" && !path.IsAbs(localRoot) {
		localRoot = path.Join(cwd, localRoot)
		if err := k.Load(confmap.Provider(map[string]any{
			"localroot": localRoot,
		}, "."), nil); err != nil {
			return nil, fmt.Errorf("set localroot: %w", err)
		}
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
