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

package backup

import (
	"archive/zip"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/go-annotation-backend/internal/core/ingest"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

func writePng(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 1})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// seedTask ingests a small image task with a two-label vocabulary and one
// annotated job, returning everything a round-trip assertion needs.
func seedTask(t *testing.T, store *sqlite.Backend, dataRoot string, mapping [][]string) *model.Task {
	t.Helper()
	ctx := context.Background()

	task := &model.Task{Name: "backup-seed", Status: "new"}
	id, err := store.CreateTask(ctx, task)
	require.NoError(t, err)
	task.ID = id

	taskRoot := ingest.TaskRoot(dataRoot, id)
	names := []string{"a.png", "b.png", "c.png", "d.png"}
	for _, name := range names {
		writePng(t, filepath.Join(taskRoot, ingest.RawDirName, name), 6, 4)
	}

	carID, err := store.CreateLabel(ctx, &model.Label{TaskID: id, Name: "car", Color: "#ff0000", Type: "rectangle"})
	require.NoError(t, err)
	colorAttr, err := store.CreateAttribute(ctx, &model.Attribute{
		LabelID: carID, Name: "body_color", InputType: "select", DefaultValue: "red",
		Values: []string{"red", "blue"},
	})
	require.NoError(t, err)
	_, err = store.CreateLabel(ctx, &model.Label{TaskID: id, Name: "person", Color: "#00ff00", Type: "polygon"})
	require.NoError(t, err)

	request := &ingest.Request{
		Task:     task,
		TaskRoot: taskRoot,
		Store:    store,
		Workers:  1,
		TaskParams: model.TaskParams{SegmentSize: 2},
		DataParams: model.DataParams{ClientFiles: names, ImageQuality: 60, JobFileMapping: mapping},
	}
	require.NoError(t, ingest.Run(ctx, request, nil))

	jobs, err := store.ListTaskJobs(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, jobs)

	payload := model.EmptyAnnotations()
	payload.Version = 1
	payload.Shapes = append(payload.Shapes, model.Shape{
		LabelID: carID,
		Type:    "rectangle",
		Points:  []float64{1, 1, 4, 3},
		Source:  "manual",
		Attributes: []model.AttributeValue{
			{SpecID: colorAttr, Value: "blue"},
		},
	})
	require.NoError(t, store.PutJobAnnotations(ctx, jobs[0].ID, payload))
	require.NoError(t, store.UpdateJobStatus(ctx, jobs[0].ID, "completed", "acceptance"))
	return task
}

func TestMappingRoundTripsAnnotations(t *testing.T) {
	builder := NewMappingBuilder()
	require.NoError(t, builder.Add(
		&model.Label{ID: 7, Name: "skeleton"},
		[]*model.Attribute{{ID: 31, Name: "pose"}},
	))
	require.NoError(t, builder.Add(&model.Label{ID: 8, ParentID: 7, Name: "head"}, nil))
	m := builder.Build()

	payload := &model.JobAnnotations{Shapes: []model.Shape{{
		LabelID:    7,
		Type:       "skeleton",
		Attributes: []model.AttributeValue{{SpecID: 31, Value: "standing"}},
		Elements:   []model.Shape{{LabelID: 8, Type: "points"}},
	}}}
	require.NoError(t, m.AnnotationsToNames(payload))
	assert.Equal(t, "skeleton", payload.Shapes[0].Label)
	assert.Zero(t, payload.Shapes[0].LabelID)
	assert.Equal(t, "pose", payload.Shapes[0].Attributes[0].Spec)
	assert.Equal(t, "skeleton/head", payload.Shapes[0].Elements[0].Label)

	require.NoError(t, m.AnnotationsToIDs(payload))
	assert.Equal(t, int64(7), payload.Shapes[0].LabelID)
	assert.Equal(t, int64(31), payload.Shapes[0].Attributes[0].SpecID)
	assert.Equal(t, int64(8), payload.Shapes[0].Elements[0].LabelID)
}

func TestMappingRewritesSkeletonSVG(t *testing.T) {
	builder := NewMappingBuilder()
	require.NoError(t, builder.Add(&model.Label{ID: 3, Name: "arm"}, nil))
	m := builder.Build()

	portable := m.SVGIDsToNames(`<circle data-label-id="3" r="1"/>`)
	assert.Equal(t, `<circle data-label-name="arm" r="1"/>`, portable)

	restored, err := m.SVGNamesToIDs(portable)
	require.NoError(t, err)
	assert.Equal(t, `<circle data-label-id="3" r="1"/>`, restored)

	_, err = m.SVGNamesToIDs(`<circle data-label-name="leg"/>`)
	require.Error(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dataRoot := t.TempDir()
	task := seedTask(t, store, dataRoot, nil)
	ctx := context.Background()

	archivePath := filepath.Join(t.TempDir(), "task.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	require.NoError(t, NewExporter(store, dataRoot, "").ExportTask(ctx, task.ID, f))
	require.NoError(t, f.Close())

	restoredID, err := NewImporter(store, dataRoot, 1).ImportTask(ctx, archivePath, ImportOptions{OwnerID: 9})
	require.NoError(t, err)
	require.NotEqual(t, task.ID, restoredID)

	restored, err := store.GetTask(ctx, restoredID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, restored.Name)
	assert.Equal(t, 2, restored.SegmentSize)

	origData, err := store.GetData(ctx, task.DataID)
	require.NoError(t, err)
	newData, err := store.GetData(ctx, restored.DataID)
	require.NoError(t, err)
	assert.Equal(t, origData.Size, newData.Size)

	origImages, err := store.ListImages(ctx, origData.ID)
	require.NoError(t, err)
	newImages, err := store.ListImages(ctx, newData.ID)
	require.NoError(t, err)
	require.Len(t, newImages, len(origImages))
	for n := range origImages {
		assert.Equal(t, origImages[n].Path, newImages[n].Path)
		assert.Equal(t, origImages[n].Width, newImages[n].Width)
		assert.Equal(t, origImages[n].Height, newImages[n].Height)
	}

	labels, err := store.ListLabels(ctx, restoredID, 0)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "car", labels[0].Name)
	attrs, err := store.ListAttributes(ctx, labels[0].ID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "body_color", attrs[0].Name)

	jobs, err := store.ListTaskJobs(ctx, restoredID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "completed", jobs[0].Status)
	assert.Equal(t, "acceptance", jobs[0].Stage)

	payload, err := store.GetJobAnnotations(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.Len(t, payload.Shapes, 1)
	// Fresh ids, same identity through names.
	assert.Equal(t, labels[0].ID, payload.Shapes[0].LabelID)
	assert.Equal(t, attrs[0].ID, payload.Shapes[0].Attributes[0].SpecID)
	assert.Equal(t, "blue", payload.Shapes[0].Attributes[0].Value)
	assert.Equal(t, []float64{1, 1, 4, 3}, payload.Shapes[0].Points)
}

func TestCustomSegmentRoundTrip(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dataRoot := t.TempDir()
	mapping := [][]string{{"c.png", "a.png"}, {"d.png", "b.png"}}
	task := seedTask(t, store, dataRoot, mapping)
	ctx := context.Background()

	archivePath := filepath.Join(t.TempDir(), "task.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	require.NoError(t, NewExporter(store, dataRoot, "").ExportTask(ctx, task.ID, f))
	require.NoError(t, f.Close())

	restoredID, err := NewImporter(store, dataRoot, 1).ImportTask(ctx, archivePath, ImportOptions{})
	require.NoError(t, err)

	segments, err := store.ListTaskSegments(ctx, restoredID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, model.SegmentSpecificFiles, segments[0].Type)
	assert.Equal(t, mapping[0], segments[0].Files)
	assert.Equal(t, mapping[1], segments[1].Files)

	restored, err := store.GetTask(ctx, restoredID)
	require.NoError(t, err)
	assert.Zero(t, restored.SegmentSize)
}

func TestImportRejectsUnsupportedVersion(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bad.zip")
	writeArchive(t, archivePath, map[string]string{
		TaskManifestName: `{"version": "2.0", "name": "x"}`,
	})

	_, err = NewImporter(store, dir, 1).ImportTask(context.Background(), archivePath, ImportOptions{})
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExportCacheServesFreshArchives(t *testing.T) {
	cache, err := NewExportCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	updated := time.Now().Add(-time.Minute)
	_, ok := cache.Get("export_task.id1.zip", updated)
	assert.False(t, ok)

	built := 0
	path, err := cache.Put("export_task.id1.zip", func(w io.Writer) error {
		built++
		_, err := w.Write([]byte("archive-bytes"))
		return err
	})
	require.NoError(t, err)
	assert.FileExists(t, path)

	// An unmodified entity is served from cache without a rebuild.
	again, ok := cache.Get("export_task.id1.zip", updated)
	require.True(t, ok)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, built)

	// Once the entity moves past the archive's file time, the cache
	// refuses to serve it.
	_, ok = cache.Get("export_task.id1.zip", time.Now().Add(time.Hour))
	assert.False(t, ok)
}

func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
