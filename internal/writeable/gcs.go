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
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsTarget struct {
	client *storage.Client
	bucket string
	object string
}

func newGCSTarget(ctx context.Context, bucket, object string, opts *CloudOptions) (*gcsTarget, error) {
	var clientOpts []option.ClientOption
	if opts != nil {
		if opts.GCSCredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.GCSCredentialsFile))
		}
		if opts.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
		}
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("writeable: gcs client: %w", err)
	}
	return &gcsTarget{client: client, bucket: bucket, object: object}, nil
}

// start opens the object writer. GCS object writers already stream, so no
// pipe is needed; aborting cancels the writer's context before Close, which
// discards the pending object instead of committing it.
func (t *gcsTarget) start(ctx context.Context, preamble []byte) (AsyncWriteable, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := t.client.Bucket(t.bucket).Object(t.object).NewWriter(wctx)
	gw := &gcsUpload{w: w, cancel: cancel, client: t.client, bucket: t.bucket, object: t.object}
	if len(preamble) > 0 {
		if err := gw.WriteAll(ctx, preamble); err != nil {
			gw.Abort()
			return nil, err
		}
	}
	return gw, nil
}

type gcsUpload struct {
	w      *storage.Writer
	cancel context.CancelFunc
	client *storage.Client
	bucket string
	object string
}

func (u *gcsUpload) WriteAll(ctx context.Context, p []byte) error {
	if _, err := u.w.Write(p); err != nil {
		return fmt.Errorf("writeable: gcs write gs://%s/%s: %w", u.bucket, u.object, err)
	}
	countBytes(ctx, BackendGCS, len(p))
	return nil
}

func (u *gcsUpload) Close(ctx context.Context) error {
	defer u.cancel()
	if err := u.w.Close(); err != nil {
		return fmt.Errorf("writeable: gcs finalize gs://%s/%s: %w", u.bucket, u.object, err)
	}
	if err := u.client.Close(); err != nil {
		return fmt.Errorf("writeable: gcs client close: %w", err)
	}
	return nil
}

func (u *gcsUpload) Abort() {
	u.cancel()
	_ = u.w.Close()
	_ = u.client.Close()
}
