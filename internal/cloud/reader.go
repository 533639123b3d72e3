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

// Cloud Storage reader for ingestion from cloud-backed tasks. It lists
// objects under a prefix, downloads chosen objects to local paths, fetches
// the bucket's manifest with a freshness check, and mints signed GET URLs
// through the IAM credentials signer so clients can pull chunks directly.
//
// Structs:
//   - CloudReader: bucket-scoped read operations.
//
// Functions:
//   - NewCloudReader: constructor.
//   - List: object names under a prefix.
//   - Fetch: one object to a local file.
//   - FetchManifest: the bucket manifest, only when newer than a timestamp.
//   - SignedGetURL: a time-limited URL for one object.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// CloudReader reads media and manifests out of one Cloud Storage bucket.
type CloudReader struct {
	StorageClient *storage.Client
	IAMClient     *credentials.IamCredentialsClient
	Bucket        string
	SignerEmail   string
}

// NewCloudReader scopes a reader to one bucket.
//
// Inputs:
//   - clients: the shared service clients.
//   - bucket: the bucket name.
//   - signerEmail: service account used to sign URLs.
//
// Outputs:
//   - *CloudReader: the scoped reader.
func NewCloudReader(clients *ServiceClients, bucket string, signerEmail string) *CloudReader {
	return &CloudReader{
		StorageClient: clients.StorageClient,
		IAMClient:     clients.IAMClient,
		Bucket:        bucket,
		SignerEmail:   signerEmail,
	}
}

// List returns the object names under prefix in lexicographic order.
func (r *CloudReader) List(ctx context.Context, prefix string) ([]string, error) {
	it := r.StorageClient.Bucket(r.Bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &model.StorageError{Op: fmt.Sprintf("list gs://%s/%s", r.Bucket, prefix), Cause: err}
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Fetch downloads one object into destDir, preserving its relative path.
func (r *CloudReader) Fetch(ctx context.Context, object string, destDir string) (string, error) {
	rc, err := r.StorageClient.Bucket(r.Bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", &model.StorageError{Op: fmt.Sprintf("open gs://%s/%s", r.Bucket, object), Cause: err}
	}
	defer func() { _ = rc.Close() }()

	dest := filepath.Join(destDir, filepath.FromSlash(object))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return "", &model.StorageError{Op: fmt.Sprintf("download gs://%s/%s", r.Bucket, object), Cause: err}
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// FetchManifest reads a manifest object, but only when the stored copy is
// newer than knownTime. A stale copy returns (nil, false, nil) so the caller
// regenerates instead of trusting it.
func (r *CloudReader) FetchManifest(ctx context.Context, object string, knownTime time.Time) ([]byte, bool, error) {
	handle := r.StorageClient.Bucket(r.Bucket).Object(object)
	attrs, err := handle.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &model.StorageError{Op: fmt.Sprintf("stat gs://%s/%s", r.Bucket, object), Cause: err}
	}
	if !knownTime.IsZero() && attrs.Updated.Before(knownTime) {
		return nil, false, nil
	}
	rc, err := handle.NewReader(ctx)
	if err != nil {
		return nil, false, &model.StorageError{Op: fmt.Sprintf("open gs://%s/%s", r.Bucket, object), Cause: err}
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, &model.StorageError{Op: fmt.Sprintf("read gs://%s/%s", r.Bucket, object), Cause: err}
	}
	return raw, true, nil
}

// SignedGetURL mints a V4 signed GET URL for one object, signed through the
// IAM credentials API so no service account key ships with the binary.
//
// Inputs:
//   - ctx: the request context.
//   - object: the object name inside the bucket.
//   - expires: how long the URL stays valid.
//
// Outputs:
//   - string: the signed URL.
//   - error: non-nil when signing fails.
func (r *CloudReader) SignedGetURL(ctx context.Context, object string, expires time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(expires),
		GoogleAccessID: r.SignerEmail,
		SignBytes: func(b []byte) ([]byte, error) {
			req := &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", r.SignerEmail),
				Payload: b,
			}
			resp, err := r.IAMClient.SignBlob(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}
	u, err := r.StorageClient.Bucket(r.Bucket).SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", r.Bucket, object, err)
	}
	return u, nil
}
