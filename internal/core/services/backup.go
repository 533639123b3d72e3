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
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/backup"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// BackupService runs exports and imports on the worker pool behind
// idempotent handles. Exports go through the archive cache, so an
// unmodified entity is served from disk without touching the exporter.
type BackupService struct {
	store        *sqlite.Backend
	exporter     *backup.Exporter
	importer     *backup.Importer
	taskCache    *backup.ExportCache
	projectCache *backup.ExportCache
	registry     *Registry
	pool         *Pool
	mirror       *cloud.CloudWriter
}

// SetArchiveMirror makes every freshly written export archive get copied to
// the backup bucket as well. A mirror failure is logged, not surfaced: the
// local archive is the source of truth.
func (s *BackupService) SetArchiveMirror(w *cloud.CloudWriter) {
	s.mirror = w
}

func (s *BackupService) mirrorArchive(path string, object string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(context.Background(), path, object); err != nil {
		slog.Warn("archive mirror failed", "object", object, "error", err)
	}
}

// NewBackupService creates the backup service.
//
// Inputs:
//   - store: the row store.
//   - exporter: the archive writer.
//   - importer: the archive reader.
//   - cacheDir: the export cache directory; task and project archives get
//     separate subdirectories and TTLs.
//   - taskTTL, projectTTL: how long finished archives outlive a request.
//   - pool: the shared background worker pool.
//
// Outputs:
//   - A pointer to the backup service and an error when the cache
//     directories cannot be created.
func NewBackupService(store *sqlite.Backend, exporter *backup.Exporter, importer *backup.Importer, cacheDir string, taskTTL time.Duration, projectTTL time.Duration, pool *Pool) (*BackupService, error) {
	taskCache, err := backup.NewExportCache(cacheDir+"/tasks", taskTTL)
	if err != nil {
		return nil, err
	}
	projectCache, err := backup.NewExportCache(cacheDir+"/projects", projectTTL)
	if err != nil {
		return nil, err
	}
	return &BackupService{
		store:        store,
		exporter:     exporter,
		importer:     importer,
		taskCache:    taskCache,
		projectCache: projectCache,
		registry:     NewRegistry(),
		pool:         pool,
	}, nil
}

// RequestTaskExport starts (or joins) the export of a task and returns the
// handle to poll.
func (s *BackupService) RequestTaskExport(ctx context.Context, taskID int64) (Handle, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return Handle{}, err
	}
	key := ExportKey("task", taskID)
	handle, start, err := s.registry.Begin(key, task.UpdatedAt)
	if err != nil || !start {
		return handle, err
	}

	s.pool.Submit(func() {
		s.registry.MarkStarted(key)
		archive := fmt.Sprintf("task_%d.zip", taskID)
		if path, ok := s.taskCache.Get(archive, task.UpdatedAt); ok {
			s.registry.MarkFinished(key, path)
			return
		}
		path, err := s.taskCache.Put(archive, func(w io.Writer) error {
			return s.exporter.ExportTask(context.Background(), taskID, w)
		})
		if err != nil {
			slog.Error("task export failed", "task_id", taskID, "error", err)
			s.registry.MarkFailed(key, err)
			return
		}
		s.mirrorArchive(path, archive)
		s.registry.MarkFinished(key, path)
	})
	handle, _ = s.registry.Get(key)
	return handle, nil
}

// RequestProjectExport is the project-level counterpart of
// RequestTaskExport.
func (s *BackupService) RequestProjectExport(ctx context.Context, projectID int64) (Handle, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Handle{}, err
	}
	key := ExportKey("project", projectID)
	handle, start, err := s.registry.Begin(key, project.UpdatedAt)
	if err != nil || !start {
		return handle, err
	}

	s.pool.Submit(func() {
		s.registry.MarkStarted(key)
		archive := fmt.Sprintf("project_%d.zip", projectID)
		if path, ok := s.projectCache.Get(archive, project.UpdatedAt); ok {
			s.registry.MarkFinished(key, path)
			return
		}
		path, err := s.projectCache.Put(archive, func(w io.Writer) error {
			return s.exporter.ExportProject(context.Background(), projectID, w)
		})
		if err != nil {
			slog.Error("project export failed", "project_id", projectID, "error", err)
			s.registry.MarkFailed(key, err)
			return
		}
		s.mirrorArchive(path, archive)
		s.registry.MarkFinished(key, path)
	})
	handle, _ = s.registry.Get(key)
	return handle, nil
}

// RequestTaskImport restores a task archive in the background. Every import
// is its own unit of work under a fresh key.
func (s *BackupService) RequestTaskImport(archivePath string, opts backup.ImportOptions) Handle {
	return s.runImport(ImportKey("task"), func(ctx context.Context) (int64, error) {
		return s.importer.ImportTask(ctx, archivePath, opts)
	})
}

// RequestProjectImport restores a project archive in the background.
func (s *BackupService) RequestProjectImport(archivePath string, opts backup.ImportOptions) Handle {
	return s.runImport(ImportKey("project"), func(ctx context.Context) (int64, error) {
		return s.importer.ImportProject(ctx, archivePath, opts)
	})
}

func (s *BackupService) runImport(key string, run func(ctx context.Context) (int64, error)) Handle {
	handle, _, _ := s.registry.Begin(key, time.Time{})
	s.pool.Submit(func() {
		s.registry.MarkStarted(key)
		id, err := run(context.Background())
		if err != nil {
			slog.Error("import failed", "key", key, "error", err)
			s.registry.MarkFailed(key, err)
			return
		}
		s.registry.MarkFinished(key, strconv.FormatInt(id, 10))
	})
	return handle
}

// HandleStatus looks up a handle by key.
func (s *BackupService) HandleStatus(key string) (Handle, bool) {
	return s.registry.Get(key)
}

// ClearHandle removes a finished or failed handle so the caller can retry.
func (s *BackupService) ClearHandle(key string) bool {
	return s.registry.Clear(key)
}

// Close stops the archive expiry timers.
func (s *BackupService) Close() {
	s.taskCache.Close()
	s.projectCache.Close()
}
