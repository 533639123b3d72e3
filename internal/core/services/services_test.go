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

package services

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

func TestRegistryDeduplicatesInFlightRequests(t *testing.T) {
	r := NewRegistry()
	updated := time.Now()

	first, start, err := r.Begin("export:task.id1", updated)
	require.NoError(t, err)
	assert.True(t, start)
	assert.Equal(t, StatusQueued, first.Status)

	second, start, err := r.Begin("export:task.id1", updated)
	require.NoError(t, err)
	assert.False(t, start)
	assert.Equal(t, first.Key, second.Key)
}

func TestRegistryDiscardsStaleFinishedHandles(t *testing.T) {
	r := NewRegistry()
	_, start, err := r.Begin("export:task.id2", time.Now())
	require.NoError(t, err)
	require.True(t, start)
	r.MarkFinished("export:task.id2", "/archives/task_2.zip")

	// The entity has not moved: the finished handle is served as is.
	h, start, err := r.Begin("export:task.id2", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, start)
	assert.Equal(t, StatusFinished, h.Status)
	assert.Equal(t, "/archives/task_2.zip", h.Result)

	// The entity changed after the archive was built: requeue.
	h, start, err = r.Begin("export:task.id2", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, start)
	assert.Equal(t, StatusQueued, h.Status)
}

func TestRegistryFailedHandleBlocksUntilCleared(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Begin("import:task.x", time.Time{})
	require.NoError(t, err)
	r.MarkFailed("import:task.x", assert.AnError)

	_, _, err = r.Begin("import:task.x", time.Time{})
	require.Error(t, err)

	require.True(t, r.Clear("import:task.x"))
	_, start, err := r.Begin("import:task.x", time.Time{})
	require.NoError(t, err)
	assert.True(t, start)
}

func TestPoolRunsEverySubmittedJob(t *testing.T) {
	pool := NewPool(3)
	var done atomic.Int64
	for i := 0; i < 20; i++ {
		pool.Submit(func() { done.Add(1) })
	}
	pool.Close()
	assert.Equal(t, int64(20), done.Load())
}

func TestTaskServiceIngestsAttachedData(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dataRoot := t.TempDir()
	pool := NewPool(1)
	t.Cleanup(pool.Close)
	svc := NewTaskService(store, dataRoot, "", nil, nil, pool, 1)

	ctx := context.Background()
	taskID, err := svc.Create(ctx, model.TaskParams{Name: "service-test", SegmentSize: 1})
	require.NoError(t, err)

	names := []string{"a.png", "b.png"}
	for _, name := range names {
		writeServicePng(t, filepath.Join(dataRoot, "task_1", "raw", name))
	}
	require.NoError(t, svc.AttachData(ctx, taskID,
		model.TaskParams{SegmentSize: 1},
		model.DataParams{ClientFiles: names, ImageQuality: 50}))

	require.Eventually(t, func() bool {
		status, err := svc.Status(ctx, taskID)
		return err == nil && status.Run == StatusFinished
	}, 10*time.Second, 20*time.Millisecond)

	status, err := svc.Status(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "annotation", status.State)
	assert.InDelta(t, 1.0, status.Fraction, 0.0001)

	jobs, err := store.ListTaskJobs(ctx, taskID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func writeServicePng(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{G: 1})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}
