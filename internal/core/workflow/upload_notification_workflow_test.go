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

package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
	test "github.com/openlabel/go-annotation-backend/internal/testutil"
)

var logger = otelslog.NewLogger("workflow-test")

func runNotification(t *testing.T, store *sqlite.Backend, payload string) cor.Context {
	t.Helper()
	logger.Info("executing notification workflow", "test", t.Name())

	w := NewUploadNotificationWorkflow(store)
	chainCtx := cor.NewBaseContext()
	t.Cleanup(chainCtx.Close)
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, payload)
	w.Execute(chainCtx)
	return chainCtx
}

func openTestStore(t *testing.T) *sqlite.Backend {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUploadNotificationRecordsMediaObject(t *testing.T) {
	store := openTestStore(t)

	chainCtx := runNotification(t, store, test.GetTestUploadMessageText())
	assert.False(t, chainCtx.HasErrors())

	uploads, err := store.ListCloudUploads(context.Background(), "annotation-uploads", "clips/")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(uploads))
	assert.Equal(t, "clips/highway-cam-001.mp4", uploads[0].ObjectName)
	assert.Equal(t, "video/mp4", uploads[0].ContentType)
	assert.Equal(t, int64(259348037), uploads[0].SizeBytes)
}

func TestUploadNotificationIgnoresNonMedia(t *testing.T) {
	store := openTestStore(t)

	chainCtx := runNotification(t, store,
		`{"bucket": "uploads", "name": "notes/readme.txt", "contentType": "text/plain", "size": "10"}`)
	// Junk uploads succeed without a ledger row so the message is acked.
	assert.False(t, chainCtx.HasErrors())

	uploads, err := store.ListCloudUploads(context.Background(), "uploads", "")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(uploads))
}

func TestUploadNotificationRejectsMalformedPayload(t *testing.T) {
	store := openTestStore(t)

	chainCtx := runNotification(t, store, `{"bucket": ""`)
	assert.True(t, chainCtx.HasErrors())
}
