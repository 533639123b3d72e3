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

// Segment, job and annotation payload operations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// CreateSegment inserts a segment row and returns its id.
func (q *Queries) CreateSegment(ctx context.Context, s *model.Segment) (int64, error) {
	files, err := json.Marshal(s.Files)
	if err != nil {
		return 0, err
	}
	if s.Files == nil {
		files = []byte("[]")
	}
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO segments (task_id, start_frame, stop_frame, type, files) VALUES (?, ?, ?, ?, ?)`,
		s.TaskID, s.StartFrame, s.StopFrame, string(s.Type), string(files))
	if err != nil {
		return 0, fmt.Errorf("insert segment: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return s.ID, err
}

// CreateJob inserts the worker-facing row of a segment.
func (q *Queries) CreateJob(ctx context.Context, j *model.Job) (int64, error) {
	res, err := q.dbtx.ExecContext(ctx,
		`INSERT INTO jobs (segment_id, status, stage) VALUES (?, ?, ?)`,
		j.SegmentID, j.Status, j.Stage)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	j.ID, err = res.LastInsertId()
	return j.ID, err
}

// ListTaskSegments returns the segments of a task ordered by start frame.
func (q *Queries) ListTaskSegments(ctx context.Context, taskID int64) ([]*model.Segment, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT id, task_id, start_frame, stop_frame, type, files
		 FROM segments WHERE task_id = ? ORDER BY start_frame, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Segment
	for rows.Next() {
		s := &model.Segment{}
		var typ, files string
		if err := rows.Scan(&s.ID, &s.TaskID, &s.StartFrame, &s.StopFrame, &typ, &files); err != nil {
			return nil, err
		}
		s.Type = model.SegmentType(typ)
		if err := json.Unmarshal([]byte(files), &s.Files); err != nil {
			return nil, fmt.Errorf("decode file list of segment %d: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListTaskJobs returns the jobs of a task in ascending segment start order,
// the order backup archives serialize and restore them in.
func (q *Queries) ListTaskJobs(ctx context.Context, taskID int64) ([]*model.Job, error) {
	rows, err := q.dbtx.QueryContext(ctx,
		`SELECT j.id, j.segment_id, j.status, j.stage
		 FROM jobs j JOIN segments s ON s.id = j.segment_id
		 WHERE s.task_id = ? ORDER BY s.start_frame, s.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Job
	for rows.Next() {
		j := &model.Job{}
		if err := rows.Scan(&j.ID, &j.SegmentID, &j.Status, &j.Stage); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJobStatus rewrites the status and stage of one job.
func (q *Queries) UpdateJobStatus(ctx context.Context, jobID int64, status, stage string) error {
	_, err := q.dbtx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = ? WHERE id = ?`, status, stage, jobID)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	return nil
}

// PutJobAnnotations replaces the annotation payload of a job.
func (q *Queries) PutJobAnnotations(ctx context.Context, jobID int64, a *model.JobAnnotations) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = q.dbtx.ExecContext(ctx,
		`INSERT INTO annotations (job_id, payload) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET payload = excluded.payload`,
		jobID, string(payload))
	if err != nil {
		return fmt.Errorf("store annotations of job %d: %w", jobID, err)
	}
	return nil
}

// GetJobAnnotations loads the annotation payload of a job, returning an empty
// set when none has been stored yet.
func (q *Queries) GetJobAnnotations(ctx context.Context, jobID int64) (*model.JobAnnotations, error) {
	var payload string
	err := q.dbtx.QueryRowContext(ctx,
		`SELECT payload FROM annotations WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmptyAnnotations(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select annotations of job %d: %w", jobID, err)
	}
	a := &model.JobAnnotations{}
	if err := json.Unmarshal([]byte(payload), a); err != nil {
		return nil, fmt.Errorf("decode annotations of job %d: %w", jobID, err)
	}
	return a, nil
}
