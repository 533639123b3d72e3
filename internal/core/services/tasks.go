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
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/ingest"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// TaskService owns task creation and the asynchronous ingestion runs behind
// it. Creation is a cheap row insert; attaching data enqueues the pipeline
// on the worker pool and the caller polls Status for progress events.
type TaskService struct {
	store      *sqlite.Backend
	dataRoot   string
	shareRoot  string
	downloader *cloud.Downloader
	reader     *cloud.CloudReader
	pool       *Pool
	workers    int

	mu   sync.Mutex
	runs map[int64]*ingestRun
}

// ingestRun is the in-memory view of one pipeline execution.
type ingestRun struct {
	Status   HandleStatus
	Stage    string
	Message  string
	Fraction float64
	Error    string
}

// TaskStatus is what the status endpoint returns: the persistent row state
// plus the live pipeline position when a run is underway.
type TaskStatus struct {
	TaskID   int64        `json:"task_id"`
	State    string       `json:"state"`
	Run      HandleStatus `json:"run,omitempty"`
	Stage    string       `json:"stage,omitempty"`
	Message  string       `json:"message,omitempty"`
	Fraction float64      `json:"fraction,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// NewTaskService creates the task service.
//
// Inputs:
//   - store: the row store.
//   - dataRoot: the directory task media trees live under.
//   - shareRoot: the read-only share root, empty when none is mounted.
//   - downloader: the SSRF-guarded remote fetcher, nil to disable remotes.
//   - reader: the cloud bucket reader, nil to disable cloud sources.
//   - pool: the shared background worker pool.
//   - workers: the chunk-encoding pool size per pipeline run.
//
// Outputs:
//   - A pointer to the task service.
func NewTaskService(store *sqlite.Backend, dataRoot string, shareRoot string, downloader *cloud.Downloader, reader *cloud.CloudReader, pool *Pool, workers int) *TaskService {
	return &TaskService{
		store:      store,
		dataRoot:   dataRoot,
		shareRoot:  shareRoot,
		downloader: downloader,
		reader:     reader,
		pool:       pool,
		workers:    workers,
		runs:       make(map[int64]*ingestRun),
	}
}

// Create inserts the task row. The task stays in state "new" until data is
// attached and the pipeline commits it.
func (s *TaskService) Create(ctx context.Context, params model.TaskParams) (int64, error) {
	if params.Name == "" {
		return 0, model.NewValidationError("a task needs a name")
	}
	task := &model.Task{
		ProjectID:   params.ProjectID,
		Name:        params.Name,
		Subset:      params.Subset,
		BugTracker:  params.BugTracker,
		Status:      "new",
		OwnerID:     params.OwnerID,
		AssigneeID:  params.AssigneeID,
		OrgID:       params.OrgID,
		Dimension:   params.Dimension,
		SegmentSize: params.SegmentSize,
	}
	return s.store.CreateTask(ctx, task)
}

// RawDir returns the directory client uploads for the task must land in
// before the attach request declares them.
func (s *TaskService) RawDir(taskID int64) string {
	return filepath.Join(ingest.TaskRoot(s.dataRoot, taskID), ingest.RawDirName)
}

// AttachData enqueues the ingestion pipeline for the task. A task with a
// run already queued or underway rejects a second attach; the row lock
// would serialize them anyway, but failing early gives the caller a usable
// error instead of a stalled request.
func (s *TaskService) AttachData(ctx context.Context, taskID int64, taskParams model.TaskParams, dataParams model.DataParams) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if run, ok := s.runs[taskID]; ok && (run.Status == StatusQueued || run.Status == StatusStarted) {
		s.mu.Unlock()
		return model.NewValidationError("task %d already has an ingestion run in flight", taskID)
	}
	s.runs[taskID] = &ingestRun{Status: StatusQueued}
	s.mu.Unlock()

	request := &ingest.Request{
		Task:       task,
		TaskParams: taskParams,
		DataParams: dataParams,
		TaskRoot:   ingest.TaskRoot(s.dataRoot, taskID),
		ShareRoot:  s.shareRoot,
		Seed:       taskID,
		Store:      s.store,
		Downloader: s.downloader,
		Reader:     s.reader,
		Workers:    s.workers,
	}

	s.pool.Submit(func() {
		s.runPipeline(request)
	})
	return nil
}

func (s *TaskService) runPipeline(request *ingest.Request) {
	taskID := request.Task.ID
	s.updateRun(taskID, func(run *ingestRun) { run.Status = StatusStarted })

	sink := make(chan cor.ProgressEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sink {
			s.updateRun(taskID, func(run *ingestRun) {
				run.Stage = event.Stage
				run.Message = event.Message
				run.Fraction = event.Fraction
			})
		}
	}()

	err := ingest.Run(context.Background(), request, sink)
	close(sink)
	<-done

	if err != nil {
		slog.Error("task ingestion failed", "task_id", taskID, "error", err)
		s.updateRun(taskID, func(run *ingestRun) {
			run.Status = StatusFailed
			run.Error = err.Error()
		})
		return
	}
	s.updateRun(taskID, func(run *ingestRun) {
		run.Status = StatusFinished
		run.Fraction = 1
	})
}

func (s *TaskService) updateRun(taskID int64, fn func(run *ingestRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[taskID]; ok {
		fn(run)
	}
}

// Status reports the task's persistent state and, when a pipeline run is
// live, its latest progress event.
func (s *TaskService) Status(ctx context.Context, taskID int64) (TaskStatus, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	out := TaskStatus{TaskID: taskID, State: task.Status}

	s.mu.Lock()
	if run, ok := s.runs[taskID]; ok {
		out.Run = run.Status
		out.Stage = run.Stage
		out.Message = run.Message
		out.Fraction = run.Fraction
		out.Error = run.Error
	}
	s.mu.Unlock()
	return out, nil
}

// Get returns the task row.
func (s *TaskService) Get(ctx context.Context, taskID int64) (*model.Task, error) {
	return s.store.GetTask(ctx, taskID)
}
