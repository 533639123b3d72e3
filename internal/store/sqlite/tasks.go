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

// Project, task and data row operations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("row not found")

// CreateProject inserts a project row and returns its id.
func (q *Queries) CreateProject(ctx context.Context, p *model.Project) (int64, error) {
	now := time.Now().UTC()
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO projects (name, bug_tracker, status, dimension, owner_id, org_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.BugTracker, p.Status, string(p.Dimension), p.OwnerID, p.OrgID, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
	return id, nil
}

// GetProject loads one project row.
func (q *Queries) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	p := &model.Project{}
	var dim string
	err := q.dbtx.QueryRowContext(ctx,
		`SELECT id, name, bug_tracker, status, dimension, owner_id, org_id, created_at, updated_at
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.BugTracker, &p.Status, &dim, &p.OwnerID, &p.OrgID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select project %d: %w", id, err)
	}
	p.Dimension = model.Dimension(dim)
	return p, nil
}

// TouchProject advances the project's modification timestamp, invalidating
// cached exports.
func (q *Queries) TouchProject(ctx context.Context, id int64) error {
	_, err := q.dbtx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// CreateTask inserts a task row and returns its id.
func (q *Queries) CreateTask(ctx context.Context, t *model.Task) (int64, error) {
	now := time.Now().UTC()
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO tasks (project_id, name, mode, dimension, segment_size, overlap, bug_tracker,
		                    status, subset, owner_id, assignee_id, org_id, data_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Name, string(t.Mode), string(t.Dimension), t.SegmentSize, t.Overlap, t.BugTracker,
		t.Status, t.Subset, t.OwnerID, t.AssigneeID, t.OrgID, t.DataID, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID, t.CreatedAt, t.UpdatedAt = id, now, now
	return id, nil
}

// GetTask loads one task row.
func (q *Queries) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	t := &model.Task{}
	var mode, dim string
	err := q.dbtx.QueryRowContext(ctx,
		`SELECT id, project_id, name, mode, dimension, segment_size, overlap, bug_tracker,
		        status, subset, owner_id, assignee_id, org_id, data_id, created_at, updated_at
		 FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Name, &mode, &dim, &t.SegmentSize, &t.Overlap, &t.BugTracker,
			&t.Status, &t.Subset, &t.OwnerID, &t.AssigneeID, &t.OrgID, &t.DataID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select task %d: %w", id, err)
	}
	t.Mode, t.Dimension = model.TaskMode(mode), model.Dimension(dim)
	return t, nil
}

// UpdateTaskAfterIngest writes back the effective segmentation parameters,
// the data reference and the new status at the end of a pipeline run.
func (q *Queries) UpdateTaskAfterIngest(ctx context.Context, t *model.Task) error {
	_, err := q.dbtx.ExecContext(ctx,
		`UPDATE tasks SET mode = ?, segment_size = ?, overlap = ?, data_id = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		string(t.Mode), t.SegmentSize, t.Overlap, t.DataID, t.Status, time.Now().UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return nil
}

// TouchTask advances the task's modification timestamp, invalidating cached
// exports.
func (q *Queries) TouchTask(ctx context.Context, id int64) error {
	_, err := q.dbtx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ListProjectTasks returns the tasks of a project ordered by id, the order
// project exports nest them in.
func (q *Queries) ListProjectTasks(ctx context.Context, projectID int64) ([]*model.Task, error) {
	rows, err := q.dbtx.QueryContext(ctx, `SELECT id FROM tasks WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := q.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CreateData inserts a data row and returns its id.
func (q *Queries) CreateData(ctx context.Context, d *model.Data) (int64, error) {
	deleted, err := json.Marshal(d.DeletedFrames)
	if err != nil {
		return 0, err
	}
	if d.DeletedFrames == nil {
		deleted = []byte("[]")
	}
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO data (size, start_frame, stop_frame, frame_filter, chunk_size, image_quality,
		                   storage, storage_method, chunk_type, sorting_method, deleted_frames)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Size, d.StartFrame, d.StopFrame, d.FrameFilter, d.ChunkSize, d.ImageQuality,
		string(d.Storage), string(d.StorageMethod), string(d.ChunkType), string(d.SortingMethod), string(deleted))
	if err != nil {
		return 0, fmt.Errorf("insert data: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

// UpdateData rewrites the mutable columns of a data row.
func (q *Queries) UpdateData(ctx context.Context, d *model.Data) error {
	deleted, err := json.Marshal(d.DeletedFrames)
	if err != nil {
		return err
	}
	if d.DeletedFrames == nil {
		deleted = []byte("[]")
	}
	_, err = q.dbtx.ExecContext(ctx,
		`UPDATE data SET size = ?, start_frame = ?, stop_frame = ?, frame_filter = ?, chunk_size = ?,
		                 image_quality = ?, storage = ?, storage_method = ?, chunk_type = ?,
		                 sorting_method = ?, deleted_frames = ?
		 WHERE id = ?`,
		d.Size, d.StartFrame, d.StopFrame, d.FrameFilter, d.ChunkSize,
		d.ImageQuality, string(d.Storage), string(d.StorageMethod), string(d.ChunkType),
		string(d.SortingMethod), string(deleted), d.ID)
	if err != nil {
		return fmt.Errorf("update data %d: %w", d.ID, err)
	}
	return nil
}

// GetData loads one data row.
func (q *Queries) GetData(ctx context.Context, id int64) (*model.Data, error) {
	d := &model.Data{}
	var storage, method, chunkType, sorting, deleted string
	err := q.dbtx.QueryRowContext(ctx,
		`SELECT id, size, start_frame, stop_frame, frame_filter, chunk_size, image_quality,
		        storage, storage_method, chunk_type, sorting_method, deleted_frames
		 FROM data WHERE id = ?`, id).
		Scan(&d.ID, &d.Size, &d.StartFrame, &d.StopFrame, &d.FrameFilter, &d.ChunkSize, &d.ImageQuality,
			&storage, &method, &chunkType, &sorting, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select data %d: %w", id, err)
	}
	d.Storage = model.StorageLocation(storage)
	d.StorageMethod = model.StorageMethod(method)
	d.ChunkType = model.ChunkType(chunkType)
	d.SortingMethod = model.SortingMethod(sorting)
	if err := json.Unmarshal([]byte(deleted), &d.DeletedFrames); err != nil {
		return nil, fmt.Errorf("decode deleted frames of data %d: %w", id, err)
	}
	return d, nil
}
