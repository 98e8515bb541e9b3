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

package writeable

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Target struct {
	client *s3.Client
	bucket string
	key    string
}

func newS3Target(ctx context.Context, bucket, key string, opts *CloudOptions) (*s3Target, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts != nil {
		if opts.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(opts.Region))
		}
		if opts.AccessKeyID != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
			))
		}
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("writeable: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts != nil && opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts != nil && opts.PathStyle {
			o.UsePathStyle = true
		}
	})

	return &s3Target{client: client, bucket: bucket, key: key}, nil
}

// start begins a streaming multipart upload. The uploader consumes the read
// half of a pipe; WriteAll feeds the write half, so backpressure from the
// network propagates to the caller.
func (t *s3Target) start(ctx context.Context, preamble []byte) (AsyncWriteable, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	uploader := manager.NewUploader(t.client)
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(t.key),
			Body:   pr,
		})
		if err != nil {
			_ = pr.CloseWithError(fmt.Errorf("upload s3://%s/%s: %w", t.bucket, t.key, err))
		}
		done <- err
	}()

	w := &pipeUpload{pw: pw, done: done, backend: BackendS3}
	if len(preamble) > 0 {
		if err := w.WriteAll(ctx, preamble); err != nil {
			w.Abort()
			return nil, err
		}
	}
	return w, nil
}

var errAborted = errors.New("writeable: upload aborted")

// pipeUpload is shared by the pipe-fed backends (S3 and Azure).
type pipeUpload struct {
	pw      *io.PipeWriter
	done    chan error
	backend Backend
}

func (u *pipeUpload) WriteAll(ctx context.Context, p []byte) error {
	if _, err := u.pw.Write(p); err != nil {
		return fmt.Errorf("writeable: %s write: %w", u.backend, err)
	}
	countBytes(ctx, u.backend, len(p))
	return nil
}

// Close finishes the stream and waits for the upload to finalize.
func (u *pipeUpload) Close(ctx context.Context) error {
	if err := u.pw.Close(); err != nil {
		return fmt.Errorf("writeable: %s close: %w", u.backend, err)
	}
	select {
	case err := <-u.done:
		if err != nil {
			return fmt.Errorf("writeable: %s finalize: %w", u.backend, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort tears the pipe down so the upload fails instead of committing.
func (u *pipeUpload) Abort() {
	_ = u.pw.CloseWithError(errAborted)
}
