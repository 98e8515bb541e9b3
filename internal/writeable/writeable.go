// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package writeable opens a single output destination from a path string
// and provides a two-phase handle over it: a synchronous phase for small
// preamble writes, then an asynchronous phase for the bulk of the stream.
//
// Backend selection is by URL scheme: s3://, gs:///gcs:// and az:///azure:///
// abfs:///abfss:// go to the matching object store as one streamed object;
// anything else (including file://) is a local create-or-truncate. Only the
// local backend can fsync; callers discover that through the Syncer
// capability interface instead of having fsync silently ignored.
package writeable

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bytesWritten metric.Int64Counter
	fsyncCount   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/streamsink/internal/writeable")

	var err error
	bytesWritten, err = meter.Int64Counter(
		"streamsink.writeable.bytes",
		metric.WithDescription("Bytes written to the destination"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create writeable.bytes counter: %w", err))
	}

	fsyncCount, err = meter.Int64Counter(
		"streamsink.writeable.fsyncs",
		metric.WithDescription("Number of fsync calls issued on local files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create writeable.fsyncs counter: %w", err))
	}
}

// Backend identifies the storage backing a destination.
type Backend int

const (
	BackendLocal Backend = iota
	BackendS3
	BackendGCS
	BackendAzure
)

func (b Backend) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendS3:
		return "s3"
	case BackendGCS:
		return "gcs"
	case BackendAzure:
		return "azure"
	default:
		return "unknown"
	}
}

// SyncMode selects how much to fsync before closing a local file.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncData
	SyncAll
)

// ParseSyncMode converts a config string to a SyncMode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "none", "":
		return SyncNone, nil
	case "data":
		return SyncData, nil
	case "all":
		return SyncAll, nil
	default:
		return SyncNone, fmt.Errorf("writeable: unknown sync mode %q", s)
	}
}

// CloudOptions carries credentials and endpoints for the object-store
// backends. Each backend reads the fields relevant to it; unset fields fall
// back to the environment the way the underlying SDK does.
type CloudOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool

	AzureStorageAccount string
	GCSCredentialsFile  string
}

// AsyncWriteable is the streaming phase of a destination. WriteAll and
// Close are fatal on error; Abort drops the handle without finalizing, so a
// cloud multipart upload is abandoned rather than committed.
type AsyncWriteable interface {
	WriteAll(ctx context.Context, p []byte) error
	Close(ctx context.Context) error
	Abort()
}

// Syncer is the fsync capability. Only the local backend implements it.
type Syncer interface {
	Sync(ctx context.Context, mode SyncMode) error
}

// cloudTarget is a validated cloud destination whose upload has not started.
type cloudTarget interface {
	start(ctx context.Context, preamble []byte) (AsyncWriteable, error)
}

// Writeable is the synchronous phase. For local files writes go straight to
// disk; for cloud targets they are staged in memory until IntoAsync starts
// the upload, so nothing is lost across the conversion.
type Writeable struct {
	backend Backend
	file    *os.File
	staged  bytes.Buffer
	cloud   cloudTarget
}

var cloudSchemes = map[string]Backend{
	"s3":    BackendS3,
	"gs":    BackendGCS,
	"gcs":   BackendGCS,
	"az":    BackendAzure,
	"azure": BackendAzure,
	"abfs":  BackendAzure,
	"abfss": BackendAzure,
}

// detectBackend maps a path to its backend and the path remainder (the
// bucket/key part for cloud URLs, the filesystem path otherwise).
func detectBackend(path string) (Backend, string) {
	if rest, ok := strings.CutPrefix(path, "file://"); ok {
		return BackendLocal, rest
	}
	if scheme, rest, ok := strings.Cut(path, "://"); ok {
		if b, known := cloudSchemes[strings.ToLower(scheme)]; known {
			return b, rest
		}
	}
	return BackendLocal, path
}

func splitBucketKey(backend Backend, rest string) (string, string, error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("writeable: %s path %q must be bucket/key", backend, rest)
	}
	return bucket, key, nil
}

// NewWriteable opens the destination. For local paths the file is created
// or truncated (the parent directory must exist); for cloud paths the
// client is constructed and options validated, but no bytes move until
// IntoAsync.
func NewWriteable(ctx context.Context, path string, opts *CloudOptions) (*Writeable, error) {
	backend, rest := detectBackend(path)

	if backend == BackendLocal {
		f, err := os.OpenFile(rest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("writeable: create %s: %w", rest, err)
		}
		return &Writeable{backend: BackendLocal, file: f}, nil
	}

	bucket, key, err := splitBucketKey(backend, rest)
	if err != nil {
		return nil, err
	}

	var target cloudTarget
	switch backend {
	case BackendS3:
		target, err = newS3Target(ctx, bucket, key, opts)
	case BackendGCS:
		target, err = newGCSTarget(ctx, bucket, key, opts)
	case BackendAzure:
		target, err = newAzureTarget(bucket, key, opts)
	}
	if err != nil {
		return nil, err
	}
	return &Writeable{backend: backend, cloud: target}, nil
}

// Backend returns the destination's backend kind.
func (w *Writeable) Backend() Backend {
	return w.backend
}

// Write implements io.Writer for the synchronous phase.
func (w *Writeable) Write(p []byte) (int, error) {
	if w.backend == BackendLocal {
		return w.file.Write(p)
	}
	return w.staged.Write(p)
}

// IntoAsync converts to the streaming phase. Synchronous-phase bytes are
// fully flushed before the conversion returns.
func (w *Writeable) IntoAsync(ctx context.Context) (AsyncWriteable, error) {
	if w.backend == BackendLocal {
		return &LocalFile{f: w.file}, nil
	}
	return w.cloud.start(ctx, w.staged.Bytes())
}

func countBytes(ctx context.Context, backend Backend, n int) {
	bytesWritten.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("backend", backend.String()),
	))
}
