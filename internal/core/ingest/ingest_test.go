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

package ingest

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/manifest"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

func writePng(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x)})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// newTestRequest seeds a task row and a raw directory holding the named
// png uploads, returning a request ready to run.
func newTestRequest(t *testing.T, names []string) (*Request, *sqlite.Backend) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	task := &model.Task{Name: "ingest-test", Status: "new"}
	id, err := store.CreateTask(context.Background(), task)
	require.NoError(t, err)
	task.ID = id

	taskRoot := t.TempDir()
	for _, name := range names {
		writePng(t, filepath.Join(taskRoot, RawDirName, name), 8, 6)
	}

	return &Request{
		Task:     task,
		TaskRoot: taskRoot,
		Store:    store,
		Workers:  2,
		DataParams: model.DataParams{
			ClientFiles:  names,
			ImageQuality: 70,
		},
	}, store
}

func TestPipelineCreatesSegmentedTask(t *testing.T) {
	names := []string{"e.png", "a.png", "c.png", "b.png", "d.png"}
	request, store := newTestRequest(t, names)
	request.TaskParams.SegmentSize = 2

	sink := make(chan cor.ProgressEvent, 64)
	require.NoError(t, Run(context.Background(), request, sink))

	ctx := context.Background()
	task, err := store.GetTask(ctx, request.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAnnotation, task.Status)
	assert.Equal(t, model.ModeAnnotation, task.Mode)
	assert.Equal(t, 2, task.SegmentSize)
	assert.Zero(t, task.Overlap)
	require.NotZero(t, task.DataID)

	data, err := store.GetData(ctx, task.DataID)
	require.NoError(t, err)
	assert.Equal(t, 5, data.Size)
	assert.Equal(t, 0, data.StartFrame)
	assert.Equal(t, 4, data.StopFrame)
	assert.Equal(t, model.SortLexicographical, data.SortingMethod)

	images, err := store.ListImages(ctx, data.ID)
	require.NoError(t, err)
	require.Len(t, images, 5)
	assert.Equal(t, "a.png", images[0].Path)
	assert.Equal(t, "e.png", images[4].Path)
	assert.Equal(t, 8, images[0].Width)
	assert.Equal(t, 6, images[0].Height)

	segments, err := store.ListTaskSegments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, 0, segments[0].StartFrame)
	assert.Equal(t, 1, segments[0].StopFrame)
	assert.Equal(t, 4, segments[2].StartFrame)
	assert.Equal(t, 4, segments[2].StopFrame)

	jobs, err := store.ListTaskJobs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, JobStatusNew, jobs[0].Status)

	// Eager storage writes both artifact sets and the manifest.
	assert.FileExists(t, filepath.Join(request.OriginalDir(), "0.zip"))
	assert.FileExists(t, filepath.Join(request.CompressedDir(), "0.zip"))
	assert.FileExists(t, request.ManifestPath())
	assert.NotZero(t, len(sink))
}

func TestPipelineFailsOnManifestMismatch(t *testing.T) {
	request, _ := newTestRequest(t, []string{"a.png"})

	m := &manifest.ImageManifest{Entries: []manifest.ImageEntry{
		{Name: "a", Extension: ".png", Width: 8, Height: 6},
		{Name: "b", Extension: ".jpg", Width: 8, Height: 6},
	}}
	require.NoError(t, m.Save(filepath.Join(request.RawDir(), "index.jsonl")))
	request.DataParams.ClientFiles = append(request.DataParams.ClientFiles, "index.jsonl")

	err := Run(context.Background(), request, nil)
	require.Error(t, err)
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "b.jpg", ierr.File)
}

func TestPipelineHonorsJobFileMapping(t *testing.T) {
	request, store := newTestRequest(t, []string{"a.png", "b.png", "c.png"})
	request.DataParams.JobFileMapping = [][]string{
		{"c.png", "a.png"},
		{"b.png"},
	}

	require.NoError(t, Run(context.Background(), request, nil))

	ctx := context.Background()
	task, err := store.GetTask(ctx, request.Task.ID)
	require.NoError(t, err)
	// An explicit mapping bypasses size-based segmenting entirely.
	assert.Zero(t, task.SegmentSize)

	data, err := store.GetData(ctx, task.DataID)
	require.NoError(t, err)
	assert.Equal(t, model.SortPredefined, data.SortingMethod)

	images, err := store.ListImages(ctx, data.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, []string{"c.png", "a.png", "b.png"},
		[]string{images[0].Path, images[1].Path, images[2].Path})

	segments, err := store.ListTaskSegments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, model.SegmentSpecificFiles, segments[0].Type)
	assert.Equal(t, []string{"c.png", "a.png"}, segments[0].Files)
}

func TestPipelineCachedTaskSkipsArtifacts(t *testing.T) {
	request, store := newTestRequest(t, []string{"a.png", "b.png"})
	request.DataParams.StorageMethod = model.StorageMethodCache

	require.NoError(t, Run(context.Background(), request, nil))

	ctx := context.Background()
	task, err := store.GetTask(ctx, request.Task.ID)
	require.NoError(t, err)
	data, err := store.GetData(ctx, task.DataID)
	require.NoError(t, err)
	assert.Equal(t, model.StorageMethodCache, data.StorageMethod)

	// Lazy storage leaves chunk materialization to the serving path.
	assert.NoDirExists(t, request.OriginalDir())
	assert.NoDirExists(t, request.CompressedDir())
	assert.FileExists(t, request.ManifestPath())
}
