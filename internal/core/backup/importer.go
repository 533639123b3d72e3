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
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/openlabel/go-annotation-backend/internal/core/ingest"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// ImportOptions carries the caller identity a restored entity is assigned
// to, since owner and assignee never travel inside an archive.
type ImportOptions struct {
	OwnerID int64
	OrgID   int64
	// ProjectID attaches the restored task to an existing project. Zero
	// restores it standalone.
	ProjectID int64
}

// Importer reconstructs tasks and projects from archives. Media is
// materialized into the task's upload directory and the ingestion pipeline
// is re-run synchronously in restore mode, so a restored task goes through
// exactly the same chunking and segmentation code as a fresh one.
type Importer struct {
	store    *sqlite.Backend
	dataRoot string
	workers  int
}

// NewImporter creates an importer.
//
// Inputs:
//   - store: the row store to recreate entities in.
//   - dataRoot: the directory new task media trees are materialized under.
//   - workers: the chunk-encoding pool size handed to the pipeline.
//
// Outputs:
//   - A pointer to the importer.
func NewImporter(store *sqlite.Backend, dataRoot string, workers int) *Importer {
	return &Importer{store: store, dataRoot: dataRoot, workers: workers}
}

// ImportTask restores one task archive and returns the new task id.
func (i *Importer) ImportTask(ctx context.Context, archivePath string, opts ImportOptions) (int64, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, &model.StorageError{Op: "archive open", Cause: err}
	}
	defer zr.Close()
	return i.importTaskFrom(ctx, &zr.Reader, "", opts, nil)
}

// ImportProject restores a project archive: the project row and vocabulary
// first, then every task_{n}/ subtree in numeric order with the shared
// label mapping.
func (i *Importer) ImportProject(ctx context.Context, archivePath string, opts ImportOptions) (int64, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, &model.StorageError{Op: "archive open", Cause: err}
	}
	defer zr.Close()

	raw, err := readZipEntry(&zr.Reader, ProjectManifestName)
	if err != nil {
		return 0, err
	}
	if err := checkVersion(raw); err != nil {
		return 0, err
	}
	doc := &ProjectManifest{}
	if err := decodeManifest(raw, doc); err != nil {
		return 0, model.NewImportFormatError("bad project manifest: %v", err)
	}

	project := &model.Project{
		Name:       doc.Name,
		BugTracker: doc.BugTracker,
		Status:     doc.Status,
		Dimension:  model.Dimension(doc.Dimension),
		OwnerID:    opts.OwnerID,
		OrgID:      opts.OrgID,
	}
	projectID, err := i.store.CreateProject(ctx, project)
	if err != nil {
		return 0, err
	}
	mapping, err := i.createLabels(ctx, doc.Labels, 0, projectID)
	if err != nil {
		return 0, err
	}

	taskOpts := opts
	taskOpts.ProjectID = projectID
	for _, prefix := range taskPrefixes(&zr.Reader) {
		if _, err := i.importTaskFrom(ctx, &zr.Reader, prefix, taskOpts, mapping); err != nil {
			return 0, err
		}
	}
	return projectID, nil
}

// importTaskFrom restores one task subtree. A non-nil mapping means the
// vocabulary already exists (project import); otherwise the task manifest's
// own labels are created first.
func (i *Importer) importTaskFrom(ctx context.Context, zr *zip.Reader, prefix string, opts ImportOptions, mapping *Mapping) (int64, error) {
	raw, err := readZipEntry(zr, prefix+TaskManifestName)
	if err != nil {
		return 0, err
	}
	if err := checkVersion(raw); err != nil {
		return 0, err
	}
	doc := &TaskManifest{}
	if err := decodeManifest(raw, doc); err != nil {
		return 0, model.NewImportFormatError("bad task manifest: %v", err)
	}

	task := &model.Task{
		ProjectID:  opts.ProjectID,
		Name:       doc.Name,
		Subset:     doc.Subset,
		BugTracker: doc.BugTracker,
		Mode:       model.TaskMode(doc.Mode),
		Dimension:  model.Dimension(doc.Dimension),
		Status:     "new",
		OwnerID:    opts.OwnerID,
		OrgID:      opts.OrgID,
	}
	taskID, err := i.store.CreateTask(ctx, task)
	if err != nil {
		return 0, err
	}
	task.ID = taskID

	if mapping == nil {
		if mapping, err = i.createLabels(ctx, doc.Labels, taskID, 0); err != nil {
			return 0, err
		}
	}

	taskParams, dataParams, err := buildRestoreParams(doc)
	if err != nil {
		return 0, err
	}

	taskRoot := ingest.TaskRoot(i.dataRoot, taskID)
	clientFiles, err := i.materializeMedia(zr, prefix, taskRoot)
	if err != nil {
		return 0, err
	}
	dataParams.ClientFiles = clientFiles

	request := &ingest.Request{
		Task:       task,
		TaskParams: taskParams,
		DataParams: dataParams,
		TaskRoot:   taskRoot,
		Restore:    true,
		Store:      i.store,
		Workers:    i.workers,
	}
	if err := ingest.Run(ctx, request, nil); err != nil {
		return 0, err
	}

	if err := i.reapplyJobs(ctx, taskID, doc.Jobs); err != nil {
		return 0, err
	}
	if err := i.replayAnnotations(ctx, zr, prefix, taskID, mapping); err != nil {
		return 0, err
	}
	return taskID, nil
}

// createLabels recreates the vocabulary top-down, then repoints skeleton
// templates at the freshly assigned ids once the whole tree exists.
func (i *Importer) createLabels(ctx context.Context, labels []LabelManifest, taskID int64, projectID int64) (*Mapping, error) {
	builder := NewMappingBuilder()
	idByName := make(map[string]int64, len(labels))
	svgByID := make(map[int64]string)

	for _, lm := range labels {
		row := &model.Label{
			TaskID:    taskID,
			ProjectID: projectID,
			Name:      lm.Name,
			Color:     lm.Color,
			Type:      lm.Type,
			SVG:       lm.SVG,
		}
		if lm.Parent != "" {
			parentID, ok := idByName[lm.Parent]
			if !ok {
				return nil, model.NewImportFormatError("label %q references unknown parent %q", lm.Name, lm.Parent)
			}
			row.ParentID = parentID
		}
		id, err := i.store.CreateLabel(ctx, row)
		if err != nil {
			return nil, err
		}
		row.ID = id
		idByName[lm.Name] = id
		if lm.SVG != "" {
			svgByID[id] = lm.SVG
		}

		attrs := make([]*model.Attribute, 0, len(lm.Attributes))
		for _, am := range lm.Attributes {
			attr := &model.Attribute{
				LabelID:      id,
				Name:         am.Name,
				Mutable:      am.Mutable,
				InputType:    am.InputType,
				DefaultValue: am.DefaultValue,
				Values:       am.Values,
			}
			attrID, err := i.store.CreateAttribute(ctx, attr)
			if err != nil {
				return nil, err
			}
			attr.ID = attrID
			attrs = append(attrs, attr)
		}
		if err := builder.Add(row, attrs); err != nil {
			return nil, err
		}
	}
	mapping := builder.Build()

	for id, svg := range svgByID {
		rewritten, err := mapping.SVGNamesToIDs(svg)
		if err != nil {
			return nil, err
		}
		if err := i.store.UpdateLabelSVG(ctx, id, rewritten); err != nil {
			return nil, err
		}
	}
	return mapping, nil
}

// buildRestoreParams translates the archived manifest into pipeline
// parameters. Custom-segment tasks hand the literal file lists to the
// pipeline and drop the size and sort fields, which have no meaning for an
// explicit partition. Plain tasks whose manifest predates effective-value
// write-back derive (segment_size, overlap) from the first two jobs.
func buildRestoreParams(doc *TaskManifest) (model.TaskParams, model.DataParams, error) {
	taskParams := model.TaskParams{
		Name:        doc.Name,
		Subset:      doc.Subset,
		BugTracker:  doc.BugTracker,
		Mode:        model.TaskMode(doc.Mode),
		Dimension:   model.Dimension(doc.Dimension),
		SegmentSize: doc.SegmentSize,
	}
	if doc.Overlap != 0 {
		overlap := doc.Overlap
		taskParams.Overlap = &overlap
	}

	stop := doc.Data.StopFrame
	dataParams := model.DataParams{
		ImageQuality:  doc.Data.ImageQuality,
		StartFrame:    doc.Data.StartFrame,
		StopFrame:     &stop,
		FrameFilter:   doc.Data.FrameFilter,
		Storage:       model.StorageLocal,
		StorageMethod: model.StorageMethod(doc.Data.StorageMethod),
		SortingMethod: model.SortingMethod(doc.Data.SortingMethod),
		UseZipChunks:  doc.Data.ChunkType != string(model.ChunkVideo),
	}
	if doc.Data.ChunkSize > 0 {
		chunkSize := doc.Data.ChunkSize
		dataParams.ChunkSize = &chunkSize
	}

	if doc.Data.CustomSegments {
		mapping := make([][]string, 0, len(doc.Jobs))
		for n, job := range doc.Jobs {
			want := job.StopFrame - job.StartFrame + 1
			if len(job.Files) != want {
				return taskParams, dataParams, model.NewImportFormatError(
					"job %d lists %d files but spans %d frames", n, len(job.Files), want)
			}
			mapping = append(mapping, job.Files)
		}
		dataParams.JobFileMapping = mapping
		taskParams.SegmentSize = 0
		taskParams.Overlap = nil
		dataParams.SortingMethod = ""
		return taskParams, dataParams, nil
	}

	if taskParams.SegmentSize == 0 && len(doc.Jobs) > 0 {
		size, overlap := derivedSegmentParams(doc.Jobs)
		taskParams.SegmentSize = size
		taskParams.Overlap = &overlap
	}
	return taskParams, dataParams, nil
}

func derivedSegmentParams(jobs []JobManifest) (size int, overlap int) {
	first := jobs[0]
	size = first.StopFrame - first.StartFrame + 1
	if len(jobs) == 1 {
		return size, 0
	}
	overlap = first.StopFrame - jobs[1].StartFrame + 1
	if overlap < 0 {
		overlap = 0
	}
	return size, overlap
}

// materializeMedia extracts the archive's data/ subtree into the task's raw
// directory and reports the written files as client files for the pipeline.
func (i *Importer) materializeMedia(zr *zip.Reader, prefix string, taskRoot string) ([]string, error) {
	rawDir := filepath.Join(taskRoot, ingest.RawDirName)
	dataPrefix := prefix + DataDirName + "/"

	var clientFiles []string
	for _, entry := range zr.File {
		if !strings.HasPrefix(entry.Name, dataPrefix) || strings.HasSuffix(entry.Name, "/") {
			continue
		}
		rel := strings.TrimPrefix(entry.Name, dataPrefix)
		if strings.Contains(rel, "..") {
			return nil, model.NewSecurityError("archive entry %q escapes the media directory", entry.Name)
		}
		dest := filepath.Join(rawDir, filepath.FromSlash(rel))
		if err := extractZipFile(entry, dest); err != nil {
			return nil, err
		}
		clientFiles = append(clientFiles, rel)
	}
	if len(clientFiles) == 0 {
		return nil, model.NewImportFormatError("archive holds no media under %s", dataPrefix)
	}
	return clientFiles, nil
}

// reapplyJobs restores the archived review state onto the jobs the pipeline
// just cut, pairing strictly by ascending start frame.
func (i *Importer) reapplyJobs(ctx context.Context, taskID int64, archived []JobManifest) error {
	jobs, err := i.store.ListTaskJobs(ctx, taskID)
	if err != nil {
		return err
	}
	if len(jobs) != len(archived) {
		return model.NewImportFormatError("archive describes %d jobs but the pipeline cut %d", len(archived), len(jobs))
	}
	ordered := append([]JobManifest(nil), archived...)
	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].StartFrame < ordered[b].StartFrame })

	for n, jm := range ordered {
		if err := i.store.UpdateJobStatus(ctx, jobs[n].ID, jm.Status, jm.Stage); err != nil {
			return err
		}
	}
	return nil
}

// replayAnnotations pushes each job's archived payload through the mapping
// (name to id direction) and persists it. Entry n of annotations.json
// belongs to job n in segment order.
func (i *Importer) replayAnnotations(ctx context.Context, zr *zip.Reader, prefix string, taskID int64, mapping *Mapping) error {
	raw, err := readZipEntry(zr, prefix+AnnotationsName)
	if err != nil {
		return err
	}
	var payloads []*model.JobAnnotations
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return model.NewImportFormatError("bad annotations document: %v", err)
	}

	jobs, err := i.store.ListTaskJobs(ctx, taskID)
	if err != nil {
		return err
	}
	if len(payloads) != len(jobs) {
		return model.NewImportFormatError("archive holds %d annotation payloads for %d jobs", len(payloads), len(jobs))
	}
	for n, payload := range payloads {
		if payload == nil {
			payload = model.EmptyAnnotations()
		}
		if err := mapping.AnnotationsToIDs(payload); err != nil {
			return err
		}
		if err := i.store.PutJobAnnotations(ctx, jobs[n].ID, payload); err != nil {
			return err
		}
	}
	return nil
}

// taskPrefixes lists the task_{n}/ subtrees of a project archive in numeric
// order.
func taskPrefixes(zr *zip.Reader) []string {
	seen := make(map[int]bool)
	for _, entry := range zr.File {
		name := entry.Name
		if !strings.HasPrefix(name, "task_") {
			continue
		}
		slash := strings.Index(name, "/")
		if slash < 0 {
			continue
		}
		if n, err := strconv.Atoi(name[len("task_"):slash]); err == nil {
			seen[n] = true
		}
	}
	numbers := make([]int, 0, len(seen))
	for n := range seen {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	out := make([]string, len(numbers))
	for i, n := range numbers {
		out[i] = "task_" + strconv.Itoa(n) + "/"
	}
	return out
}

func checkVersion(raw []byte) error {
	version, err := peekVersion(raw)
	if err != nil {
		return model.NewImportFormatError("unreadable archive manifest: %v", err)
	}
	if version != Version {
		return model.NewValidationError("unsupported archive version %q, want %q", version, Version)
	}
	return nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, entry := range zr.File {
		if entry.Name == name {
			f, err := entry.Open()
			if err != nil {
				return nil, &model.StorageError{Op: "archive read", Cause: err}
			}
			defer f.Close()
			return io.ReadAll(f)
		}
	}
	return nil, model.NewImportFormatError("archive is missing %s", name)
}

func extractZipFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &model.StorageError{Op: "media extract", Cause: err}
	}
	src, err := entry.Open()
	if err != nil {
		return &model.StorageError{Op: "archive read", Cause: err}
	}
	defer src.Close()
	out, err := os.Create(dest)
	if err != nil {
		return &model.StorageError{Op: "media extract", Cause: err}
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return &model.StorageError{Op: "media extract", Cause: err}
	}
	return out.Close()
}
