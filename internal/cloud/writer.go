// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// CloudWriter streams local files into one Cloud Storage bucket. The backup
// engine uses it to mirror finished export archives off the local disk.
type CloudWriter struct {
	clients *ServiceClients
	Bucket  string
}

// NewCloudWriter binds a writer to one bucket.
//
// Inputs:
//   - clients: the shared cloud clients.
//   - bucket: the destination bucket name.
//
// Outputs:
//   - *CloudWriter: the configured writer.
func NewCloudWriter(clients *ServiceClients, bucket string) *CloudWriter {
	return &CloudWriter{clients: clients, Bucket: bucket}
}

// Put streams one local file to the named object, replacing any previous
// generation.
func (w *CloudWriter) Put(ctx context.Context, localPath string, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &model.StorageError{Op: fmt.Sprintf("open %s", localPath), Cause: err}
	}
	defer func() { _ = f.Close() }()

	wc := w.clients.StorageClient.Bucket(w.Bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return &model.StorageError{Op: fmt.Sprintf("write gs://%s/%s", w.Bucket, object), Cause: err}
	}
	if err := wc.Close(); err != nil {
		return &model.StorageError{Op: fmt.Sprintf("close gs://%s/%s", w.Bucket, object), Cause: err}
	}
	return nil
}
