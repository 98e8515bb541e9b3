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
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type azureTarget struct {
	client    *azblob.Client
	container string
	blob      string
}

func newAzureTarget(container, blob string, opts *CloudOptions) (*azureTarget, error) {
	serviceURL := ""
	if opts != nil {
		serviceURL = opts.Endpoint
		if serviceURL == "" && opts.AzureStorageAccount != "" {
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", opts.AzureStorageAccount)
		}
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("writeable: azure requires a storage account or endpoint")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("writeable: azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("writeable: azure client: %w", err)
	}
	return &azureTarget{client: client, container: container, blob: blob}, nil
}

// start streams the blob through UploadStream, which handles block staging
// and the final commit.
func (t *azureTarget) start(ctx context.Context, preamble []byte) (AsyncWriteable, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := t.client.UploadStream(ctx, t.container, t.blob, pr, &azblob.UploadStreamOptions{})
		if err != nil {
			_ = pr.CloseWithError(fmt.Errorf("upload az://%s/%s: %w", t.container, t.blob, err))
		}
		done <- err
	}()

	w := &pipeUpload{pw: pw, done: done, backend: BackendAzure}
	if len(preamble) > 0 {
		if err := w.WriteAll(ctx, preamble); err != nil {
			w.Abort()
			return nil, err
		}
	}
	return w, nil
}
