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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestTaskRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	dataID, err := b.CreateData(ctx, &model.Data{
		Size:          10,
		StopFrame:     9,
		ChunkSize:     36,
		ImageQuality:  70,
		Storage:       model.StorageLocal,
		StorageMethod: model.StorageMethodFileSystem,
		ChunkType:     model.ChunkImageset,
		SortingMethod: model.SortLexicographical,
	})
	require.NoError(t, err)

	task := &model.Task{
		Name:        "street scenes",
		Mode:        model.ModeAnnotation,
		Dimension:   model.Dim2D,
		SegmentSize: 4,
		Overlap:     1,
		Status:      "annotation",
		DataID:      dataID,
	}
	taskID, err := b.CreateTask(ctx, task)
	require.NoError(t, err)

	got, err := b.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "street scenes", got.Name)
	assert.Equal(t, model.ModeAnnotation, got.Mode)
	assert.Equal(t, 4, got.SegmentSize)
	assert.Equal(t, 1, got.Overlap)
	assert.Equal(t, dataID, got.DataID)

	data, err := b.GetData(ctx, dataID)
	require.NoError(t, err)
	assert.Equal(t, 10, data.Size)
	assert.Equal(t, model.ChunkImageset, data.ChunkType)
	assert.Empty(t, data.DeletedFrames)

	_, err = b.GetTask(ctx, taskID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSegmentsAndJobsCommitTogether(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	taskID, err := b.CreateTask(ctx, &model.Task{Name: "clips", Mode: model.ModeInterpolation, Dimension: model.Dim2D})
	require.NoError(t, err)

	err = b.WithTaskLock(ctx, taskID, func(q *Queries) error {
		for _, r := range [][2]int{{0, 4}, {3, 7}, {6, 9}} {
			seg := &model.Segment{TaskID: taskID, StartFrame: r[0], StopFrame: r[1], Type: model.SegmentRange}
			if _, err := q.CreateSegment(ctx, seg); err != nil {
				return err
			}
			if _, err := q.CreateJob(ctx, &model.Job{SegmentID: seg.ID, Status: "annotation", Stage: "annotation"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	segments, err := b.ListTaskSegments(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, 0, segments[0].StartFrame)
	assert.Equal(t, 6, segments[2].StartFrame)

	jobs, err := b.ListTaskJobs(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, segments[0].ID, jobs[0].SegmentID)
}

func TestTaskLockRollsBackOnError(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	taskID, err := b.CreateTask(ctx, &model.Task{Name: "doomed", Mode: model.ModeAnnotation, Dimension: model.Dim2D})
	require.NoError(t, err)

	sentinel := assert.AnError
	err = b.WithTaskLock(ctx, taskID, func(q *Queries) error {
		if _, err := q.CreateSegment(ctx, &model.Segment{TaskID: taskID, StopFrame: 4, Type: model.SegmentRange}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	segments, err := b.ListTaskSegments(ctx, taskID)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestLabelsAndAnnotations(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	taskID, err := b.CreateTask(ctx, &model.Task{Name: "vocab", Mode: model.ModeAnnotation, Dimension: model.Dim2D})
	require.NoError(t, err)

	labelID, err := b.CreateLabel(ctx, &model.Label{TaskID: taskID, Name: "car", Color: "#fa3253", Type: "rectangle"})
	require.NoError(t, err)
	_, err = b.CreateAttribute(ctx, &model.Attribute{
		LabelID:   labelID,
		Name:      "color",
		InputType: "select",
		Values:    []string{"red", "blue"},
	})
	require.NoError(t, err)

	labels, err := b.ListLabels(ctx, taskID, 0)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	attrs, err := b.ListAttributes(ctx, labelID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, []string{"red", "blue"}, attrs[0].Values)

	seg := &model.Segment{TaskID: taskID, StopFrame: 4, Type: model.SegmentRange}
	_, err = b.CreateSegment(ctx, seg)
	require.NoError(t, err)
	job := &model.Job{SegmentID: seg.ID, Status: "annotation", Stage: "annotation"}
	_, err = b.CreateJob(ctx, job)
	require.NoError(t, err)

	// No payload stored yet: reads come back empty, not as an error.
	empty, err := b.GetJobAnnotations(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, empty.Shapes)

	payload := model.EmptyAnnotations()
	payload.Shapes = append(payload.Shapes, model.Shape{LabelID: labelID, Type: "rectangle", Frame: 2, Points: []float64{1, 2, 3, 4}})
	require.NoError(t, b.PutJobAnnotations(ctx, job.ID, payload))

	got, err := b.GetJobAnnotations(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Shapes, 1)
	assert.Equal(t, labelID, got.Shapes[0].LabelID)

	// Upsert replaces rather than appends.
	require.NoError(t, b.PutJobAnnotations(ctx, job.ID, model.EmptyAnnotations()))
	got, err = b.GetJobAnnotations(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Shapes)
}

func TestImagesAndRelatedFiles(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	dataID, err := b.CreateData(ctx, &model.Data{Size: 2, StopFrame: 1, ChunkType: model.ChunkImageset})
	require.NoError(t, err)

	images := []*model.Image{
		{DataID: dataID, Path: "a.jpg", Frame: 0, Width: 320, Height: 240},
		{DataID: dataID, Path: "b.jpg", Frame: 1, Width: 320, Height: 240},
	}
	require.NoError(t, b.InsertImages(ctx, images))
	require.NotZero(t, images[0].ID)

	related := []*model.RelatedFile{
		{DataID: dataID, PrimaryImage: images[0].ID, Path: "related_images/a_jpg/cloud.pcd"},
	}
	require.NoError(t, b.InsertRelatedFiles(ctx, related))

	listed, err := b.ListImages(ctx, dataID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a.jpg", listed[0].Path)

	byPrimary, err := b.ListRelated(ctx, dataID)
	require.NoError(t, err)
	require.Len(t, byPrimary[images[0].ID], 1)
	assert.Empty(t, byPrimary[images[1].ID])
}
