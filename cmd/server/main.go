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

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openlabel/go-annotation-backend/internal/core/backup"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/core/services"
	"github.com/openlabel/go-annotation-backend/internal/gateway"
	"github.com/openlabel/go-annotation-backend/internal/telemetry"
)

func main() {
	telemetry.SetupLogging()
	slog.Info("Logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := GetConfig()

	_, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("Tracing initialized")

	InitState(ctx)
	defer TeardownState()
	slog.Info("Initialized State")

	r := gin.Default()
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		TaskRouter(apiV1)
		ProjectRouter(apiV1)
		RequestRouter(apiV1)
		CloudRouter(apiV1)
	}

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to listen", "error", err)
		}
	}()
	slog.Info("Server Ready on port 8080")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed:", "error", err)
	}

	log.Println("Server exiting")
}

// authorize consults the policy gateway for one mutating request. A missing
// policy client allows everything, which is the single-user deployment
// shape. Gateway failures deny, never allow.
func authorize(c *gin.Context, scope string, resource map[string]any) bool {
	if state.policy == nil {
		return true
	}
	decision, err := state.policy.Check(c.Request.Context(), &gateway.CheckRequest{
		Scope:        scope,
		Actor:        c.GetHeader("X-Actor"),
		Organization: c.GetHeader("X-Organization"),
		Resource:     resource,
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy check unavailable"})
		return false
	}
	if !decision.Allow {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "reasons": decision.Reasons})
		return false
	}
	return true
}

// underLimit rejects the request when the named capability is exhausted.
func underLimit(c *gin.Context, capability string, params map[string]any) bool {
	if state.limits == nil {
		return true
	}
	status, err := state.limits.GetStatus(c.Request.Context(), capability, params)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "limit check unavailable"})
		return false
	}
	if status.Exceeded() {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "limit reached",
			"used":  status.Used,
			"max":   status.Max,
		})
		return false
	}
	return true
}

// taskCreateRequest is the JSON body of POST /tasks.
type taskCreateRequest struct {
	Name        string `json:"name"`
	Subset      string `json:"subset"`
	BugTracker  string `json:"bug_tracker"`
	Dimension   string `json:"dimension"`
	SegmentSize int    `json:"segment_size"`
	Overlap     *int   `json:"overlap"`
	ProjectID   int64  `json:"project_id"`
	OwnerID     int64  `json:"owner_id"`
	AssigneeID  int64  `json:"assignee_id"`
	OrgID       int64  `json:"org_id"`
}

func (r *taskCreateRequest) toParams() model.TaskParams {
	return model.TaskParams{
		Name:        r.Name,
		Subset:      r.Subset,
		BugTracker:  r.BugTracker,
		Dimension:   model.Dimension(r.Dimension),
		SegmentSize: r.SegmentSize,
		Overlap:     r.Overlap,
		ProjectID:   r.ProjectID,
		OwnerID:     r.OwnerID,
		AssigneeID:  r.AssigneeID,
		OrgID:       r.OrgID,
	}
}

// attachDataRequest is the JSON body of POST /tasks/:id/data. Uploaded files
// must already be in place via POST /tasks/:id/data/files. SegmentSize and
// Overlap override the values given at task creation when present.
type attachDataRequest struct {
	SegmentSize   *int   `json:"segment_size"`
	Overlap       *int   `json:"overlap"`
	ChunkSize     *int   `json:"chunk_size"`
	ImageQuality  int    `json:"image_quality"`
	StartFrame    int    `json:"start_frame"`
	StopFrame     *int   `json:"stop_frame"`
	FrameFilter   string `json:"frame_filter"`
	Storage       string `json:"storage"`
	StorageMethod string `json:"storage_method"`
	SortingMethod string `json:"sorting_method"`
	UseZipChunks  bool   `json:"use_zip_chunks"`
	UseCache      bool   `json:"use_cache"`

	ClientFiles []string `json:"client_files"`
	ServerFiles []string `json:"server_files"`
	RemoteURLs  []string `json:"remote_urls"`

	CloudStoragePrefix string `json:"cloud_storage_prefix"`
	FilenamePattern    string `json:"filename_pattern"`

	JobFileMapping [][]string `json:"job_file_mapping"`
	CopyData       bool       `json:"copy_data"`
}

func (r *attachDataRequest) toParams() model.DataParams {
	return model.DataParams{
		ChunkSize:          r.ChunkSize,
		ImageQuality:       r.ImageQuality,
		StartFrame:         r.StartFrame,
		StopFrame:          r.StopFrame,
		FrameFilter:        r.FrameFilter,
		Storage:            model.StorageLocation(r.Storage),
		StorageMethod:      model.StorageMethod(r.StorageMethod),
		SortingMethod:      model.SortingMethod(r.SortingMethod),
		UseZipChunks:       r.UseZipChunks,
		UseCache:           r.UseCache,
		ClientFiles:        r.ClientFiles,
		ServerFiles:        r.ServerFiles,
		RemoteURLs:         r.RemoteURLs,
		CloudStoragePrefix: r.CloudStoragePrefix,
		FilenamePattern:    r.FilenamePattern,
		JobFileMapping:     r.JobFileMapping,
		CopyData:           r.CopyData,
	}
}

// TaskRouter sets up the task lifecycle routes.
func TaskRouter(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.POST("", func(c *gin.Context) {
			var body taskCreateRequest
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if !authorize(c, "task:create", map[string]any{"project_id": body.ProjectID}) {
				return
			}
			if !underLimit(c, "tasks", map[string]any{"org_id": body.OrgID}) {
				return
			}
			id, err := state.taskService.Create(c.Request.Context(), body.toParams())
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"id": id})
		})

		tasks.GET("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			task, err := state.taskService.Get(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			c.JSON(http.StatusOK, task)
		})

		tasks.GET("/:id/status", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			status, err := state.taskService.Status(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			c.JSON(http.StatusOK, status)
		})

		// Uploaded media lands in the task's raw directory before the
		// attach request declares it.
		tasks.POST("/:id/data/files", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			if !authorize(c, "task:data", map[string]any{"task_id": id}) {
				return
			}
			form, err := c.MultipartForm()
			if err != nil {
				c.String(http.StatusBadRequest, "get form err: %s", err.Error())
				return
			}
			files := form.File["files"]
			rawDir := state.taskService.RawDir(id)
			if err := os.MkdirAll(rawDir, 0o755); err != nil {
				c.Status(http.StatusInternalServerError)
				return
			}
			for _, file := range files {
				name := filepath.Base(file.Filename)
				if err := c.SaveUploadedFile(file, filepath.Join(rawDir, name)); err != nil {
					c.String(http.StatusBadRequest, "upload file err: %s", err.Error())
					return
				}
			}
			c.String(http.StatusOK, "Uploaded successfully %d files.", len(files))
		})

		tasks.POST("/:id/data", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			var body attachDataRequest
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if !authorize(c, "task:data", map[string]any{"task_id": id}) {
				return
			}
			task, err := state.taskService.Get(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			taskParams := model.TaskParams{
				Mode:        task.Mode,
				Dimension:   task.Dimension,
				SegmentSize: task.SegmentSize,
				Overlap:     body.Overlap,
			}
			if body.SegmentSize != nil {
				taskParams.SegmentSize = *body.SegmentSize
			}
			if err := state.taskService.AttachData(c.Request.Context(), id, taskParams, body.toParams()); err != nil {
				writeError(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})

		tasks.POST("/:id/backup", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			handle, err := state.backupService.RequestTaskExport(c.Request.Context(), id)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, handle)
		})

		tasks.GET("/:id/backup", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			handle, err := state.backupService.RequestTaskExport(c.Request.Context(), id)
			if err != nil {
				writeError(c, err)
				return
			}
			serveExport(c, handle, "task_"+strconv.FormatInt(id, 10)+"_backup.zip")
		})

		tasks.POST("/backup", func(c *gin.Context) {
			if !authorize(c, "task:import", nil) {
				return
			}
			importArchive(c, state.backupService.RequestTaskImport)
		})
	}
}

// ProjectRouter sets up the project routes.
func ProjectRouter(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.POST("", func(c *gin.Context) {
			var body struct {
				Name       string `json:"name"`
				BugTracker string `json:"bug_tracker"`
				Dimension  string `json:"dimension"`
				OwnerID    int64  `json:"owner_id"`
				OrgID      int64  `json:"org_id"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if body.Name == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "a project needs a name"})
				return
			}
			if !authorize(c, "project:create", nil) {
				return
			}
			if !underLimit(c, "projects", map[string]any{"org_id": body.OrgID}) {
				return
			}
			dimension := model.Dimension(body.Dimension)
			if dimension == "" {
				dimension = model.Dim2D
			}
			id, err := state.store.CreateProject(c.Request.Context(), &model.Project{
				Name:       body.Name,
				BugTracker: body.BugTracker,
				Dimension:  dimension,
				OwnerID:    body.OwnerID,
				OrgID:      body.OrgID,
			})
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"id": id})
		})

		projects.GET("/:id", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			project, err := state.store.GetProject(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			c.JSON(http.StatusOK, project)
		})

		projects.POST("/:id/backup", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			handle, err := state.backupService.RequestProjectExport(c.Request.Context(), id)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, handle)
		})

		projects.GET("/:id/backup", func(c *gin.Context) {
			id, ok := pathID(c)
			if !ok {
				return
			}
			handle, err := state.backupService.RequestProjectExport(c.Request.Context(), id)
			if err != nil {
				writeError(c, err)
				return
			}
			serveExport(c, handle, "project_"+strconv.FormatInt(id, 10)+"_backup.zip")
		})

		projects.POST("/backup", func(c *gin.Context) {
			if !authorize(c, "project:import", nil) {
				return
			}
			importArchive(c, state.backupService.RequestProjectImport)
		})
	}
}

// RequestRouter exposes the long-running operation handles.
func RequestRouter(r *gin.RouterGroup) {
	requests := r.Group("/requests")
	{
		requests.GET("/:key", func(c *gin.Context) {
			handle, ok := state.backupService.HandleStatus(c.Param("key"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown request"})
				return
			}
			c.JSON(http.StatusOK, handle)
		})

		requests.DELETE("/:key", func(c *gin.Context) {
			if !state.backupService.ClearHandle(c.Param("key")) {
				c.JSON(http.StatusConflict, gin.H{"error": "request is still running"})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}

// CloudRouter exposes the upload-bucket views backed by the notification
// ledger and the signed-URL helper.
func CloudRouter(r *gin.RouterGroup) {
	cloudGroup := r.Group("/cloud")
	{
		cloudGroup.GET("/uploads", func(c *gin.Context) {
			bucket := state.config.Storage.UploadBucket
			if bucket == "" {
				c.JSON(http.StatusNotFound, gin.H{"error": "no upload bucket configured"})
				return
			}
			uploads, err := state.store.ListCloudUploads(c.Request.Context(), bucket, c.Query("prefix"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, uploads)
		})

		cloudGroup.GET("/uploads/link", func(c *gin.Context) {
			if state.reader == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no upload bucket configured"})
				return
			}
			object := c.Query("object")
			if object == "" {
				c.Status(http.StatusBadRequest)
				return
			}
			signedURL, err := state.reader.SignedGetURL(c.Request.Context(), object, 15*time.Minute)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate a download URL"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": signedURL})
		})

		cloudGroup.GET("/manifest", func(c *gin.Context) {
			if state.reader == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no upload bucket configured"})
				return
			}
			var since time.Time
			if h := c.GetHeader("If-Modified-Since"); h != "" {
				if t, err := http.ParseTime(h); err == nil {
					since = t
				}
			}
			data, fresh, err := state.reader.FetchManifest(c.Request.Context(), "manifest.jsonl", since)
			if err != nil {
				writeError(c, err)
				return
			}
			if !fresh {
				// Stale relative to the caller's copy, or absent entirely.
				if since.IsZero() {
					c.JSON(http.StatusNotFound, gin.H{"error": "no bucket manifest"})
					return
				}
				c.Status(http.StatusNotModified)
				return
			}
			c.Data(http.StatusOK, "application/jsonl", data)
		})
	}
}

// serveExport turns an export handle into a response: the archive itself
// once it is ready, the handle while the worker still runs.
func serveExport(c *gin.Context, handle services.Handle, filename string) {
	switch handle.Status {
	case services.StatusFinished:
		c.FileAttachment(handle.Result, filename)
	case services.StatusFailed:
		c.JSON(http.StatusInternalServerError, handle)
	default:
		c.JSON(http.StatusAccepted, handle)
	}
}

// importArchive stages an uploaded backup archive and queues its restore.
func importArchive(c *gin.Context, request func(string, backup.ImportOptions) services.Handle) {
	file, err := c.FormFile("archive")
	if err != nil {
		c.String(http.StatusBadRequest, "get form err: %s", err.Error())
		return
	}
	staged := filepath.Join(os.TempDir(), filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, staged); err != nil {
		c.String(http.StatusBadRequest, "upload file err: %s", err.Error())
		return
	}
	opts := backup.ImportOptions{
		OwnerID:   formInt64(c, "owner_id"),
		OrgID:     formInt64(c, "org_id"),
		ProjectID: formInt64(c, "project_id"),
	}
	handle := request(staged, opts)
	c.JSON(http.StatusAccepted, handle)
}

func formInt64(c *gin.Context, field string) int64 {
	v, err := strconv.ParseInt(c.PostForm(field), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsValidationError(err):
		status = http.StatusBadRequest
	case model.IsSecurityError(err):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
