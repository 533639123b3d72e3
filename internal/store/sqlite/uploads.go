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

// Cloud upload ledger. Rows are written by the notification listener and
// read when clients browse the upload bucket, so bucket listings do not hit
// Cloud Storage on every request. A re-uploaded object replaces its row.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// RecordCloudUpload upserts one notification into the ledger.
func (q *Queries) RecordCloudUpload(ctx context.Context, u *model.CloudUpload) error {
	if u.RecordedAt.IsZero() {
		u.RecordedAt = time.Now().UTC()
	}
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO cloud_uploads (bucket, object_name, content_type, size_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (bucket, object_name) DO UPDATE SET
		   content_type = excluded.content_type,
		   size_bytes = excluded.size_bytes,
		   recorded_at = excluded.recorded_at`,
		u.Bucket, u.ObjectName, u.ContentType, u.SizeBytes, u.RecordedAt)
	if err != nil {
		return fmt.Errorf("record upload %s/%s: %w", u.Bucket, u.ObjectName, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		u.ID = id
	}
	return nil
}

// ListCloudUploads returns the recorded objects of one bucket under an
// optional prefix, newest first.
func (q *Queries) ListCloudUploads(ctx context.Context, bucket string, prefix string) ([]*model.CloudUpload, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, bucket, object_name, content_type, size_bytes, recorded_at
		 FROM cloud_uploads
		 WHERE bucket = ? AND object_name LIKE ? || '%'
		 ORDER BY recorded_at DESC, id DESC`,
		bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list uploads for %s: %w", bucket, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.CloudUpload
	for rows.Next() {
		u := &model.CloudUpload{}
		if err := rows.Scan(&u.ID, &u.Bucket, &u.ObjectName, &u.ContentType, &u.SizeBytes, &u.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
