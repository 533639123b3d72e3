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
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/openlabel/go-annotation-backend/internal/core/ingest"
	"github.com/openlabel/go-annotation-backend/internal/core/manifest"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// Exporter serializes tasks and projects into archives.
type Exporter struct {
	store     *sqlite.Backend
	dataRoot  string
	shareRoot string
}

// NewExporter creates an exporter.
//
// Inputs:
//   - store: the row store to snapshot from.
//   - dataRoot: the directory holding per-task media trees.
//   - shareRoot: the read-only share, consulted for share-storage tasks.
//
// Outputs:
//   - A pointer to the exporter.
func NewExporter(store *sqlite.Backend, dataRoot string, shareRoot string) *Exporter {
	return &Exporter{store: store, dataRoot: dataRoot, shareRoot: shareRoot}
}

// ExportTask writes a complete task archive to dest.
func (e *Exporter) ExportTask(ctx context.Context, taskID int64, dest io.Writer) error {
	zw := zip.NewWriter(dest)
	if err := e.exportTaskInto(ctx, zw, taskID, ""); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// ExportProject writes a project archive: the project manifest at the root
// and every member task nested under task_{n}/ in id order.
func (e *Exporter) ExportProject(ctx context.Context, projectID int64, dest io.Writer) error {
	zw := zip.NewWriter(dest)

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		_ = zw.Close()
		return err
	}
	labels, _, err := e.snapshotLabels(ctx, 0, projectID)
	if err != nil {
		_ = zw.Close()
		return err
	}

	doc := &ProjectManifest{
		Version:    Version,
		Name:       project.Name,
		BugTracker: project.BugTracker,
		Status:     project.Status,
		Dimension:  string(project.Dimension),
		Labels:     labels,
	}
	if err := writeJSONEntry(zw, ProjectManifestName, doc); err != nil {
		_ = zw.Close()
		return err
	}

	tasks, err := e.store.ListProjectTasks(ctx, projectID)
	if err != nil {
		_ = zw.Close()
		return err
	}
	for i, task := range tasks {
		prefix := fmt.Sprintf("task_%d/", i)
		if err := e.exportTaskInto(ctx, zw, task.ID, prefix); err != nil {
			_ = zw.Close()
			return fmt.Errorf("export task %d: %w", task.ID, err)
		}
	}
	return zw.Close()
}

func (e *Exporter) exportTaskInto(ctx context.Context, zw *zip.Writer, taskID int64, prefix string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	data, err := e.store.GetData(ctx, task.DataID)
	if err != nil {
		return err
	}
	segments, err := e.store.ListTaskSegments(ctx, taskID)
	if err != nil {
		return err
	}
	jobs, err := e.store.ListTaskJobs(ctx, taskID)
	if err != nil {
		return err
	}

	// Standalone tasks carry their own vocabulary; project members use
	// the project's, which the project manifest already holds.
	labelTask, labelProject := taskID, int64(0)
	if task.ProjectID != 0 {
		labelTask, labelProject = 0, task.ProjectID
	}
	labels, mapping, err := e.snapshotLabels(ctx, labelTask, labelProject)
	if err != nil {
		return err
	}
	if task.ProjectID != 0 {
		labels = nil
	}

	custom := false
	manifestJobs := make([]JobManifest, len(jobs))
	for i, job := range jobs {
		seg := segments[i]
		manifestJobs[i] = JobManifest{
			StartFrame: seg.StartFrame,
			StopFrame:  seg.StopFrame,
			Status:     job.Status,
			Stage:      job.Stage,
		}
		if seg.Type == model.SegmentSpecificFiles {
			custom = true
			manifestJobs[i].Files = seg.Files
		}
	}

	doc := &TaskManifest{
		Version:     Version,
		Name:        task.Name,
		Subset:      task.Subset,
		BugTracker:  task.BugTracker,
		Status:      task.Status,
		Mode:        string(task.Mode),
		Dimension:   string(task.Dimension),
		SegmentSize: task.SegmentSize,
		Overlap:     task.Overlap,
		Labels:      labels,
		Jobs:        manifestJobs,
		Data: DataManifest{
			ChunkSize:      data.ChunkSize,
			ImageQuality:   data.ImageQuality,
			StartFrame:     data.StartFrame,
			StopFrame:      data.StopFrame,
			FrameFilter:    data.FrameFilter,
			Storage:        string(data.Storage),
			StorageMethod:  string(data.StorageMethod),
			ChunkType:      string(data.ChunkType),
			SortingMethod:  string(data.SortingMethod),
			DeletedFrames:  data.DeletedFrames,
			CustomSegments: custom,
		},
	}
	if err := writeJSONEntry(zw, prefix+TaskManifestName, doc); err != nil {
		return err
	}

	payloads := make([]*model.JobAnnotations, len(jobs))
	for i, job := range jobs {
		payload, err := e.store.GetJobAnnotations(ctx, job.ID)
		if err != nil {
			return err
		}
		if err := mapping.AnnotationsToNames(payload); err != nil {
			return fmt.Errorf("job %d: %w", job.ID, err)
		}
		payloads[i] = payload
	}
	if err := writeJSONEntry(zw, prefix+AnnotationsName, payloads); err != nil {
		return err
	}

	if err := e.writeMedia(ctx, zw, task, data, prefix); err != nil {
		return err
	}
	// The auxiliary directory exists even when empty so readers can rely
	// on the layout.
	if _, err := zw.Create(prefix + AuxDirName + "/"); err != nil {
		return &model.StorageError{Op: "archive write", Cause: err}
	}
	return nil
}

// snapshotLabels loads the label tree, rewrites skeleton templates to
// portable form and builds the export mapping in the same walk. Roots come
// before children because the list is id-ordered and parents are created
// first.
func (e *Exporter) snapshotLabels(ctx context.Context, taskID int64, projectID int64) ([]LabelManifest, *Mapping, error) {
	rows, err := e.store.ListLabels(ctx, taskID, projectID)
	if err != nil {
		return nil, nil, err
	}
	builder := NewMappingBuilder()
	byID := make(map[int64]*model.Label, len(rows))

	attrRows := make(map[int64][]*model.Attribute, len(rows))
	for _, row := range rows {
		attrs, err := e.store.ListAttributes(ctx, row.ID)
		if err != nil {
			return nil, nil, err
		}
		attrRows[row.ID] = attrs
		byID[row.ID] = row
		if err := builder.Add(row, attrs); err != nil {
			return nil, nil, err
		}
	}
	mapping := builder.Build()

	out := make([]LabelManifest, 0, len(rows))
	for _, row := range rows {
		lm := LabelManifest{
			Name:       row.Name,
			Color:      row.Color,
			Type:       row.Type,
			SVG:        mapping.SVGIDsToNames(row.SVG),
			Attributes: make([]AttributeManifest, 0, len(attrRows[row.ID])),
		}
		if parent, ok := byID[row.ParentID]; ok {
			lm.Parent = parent.Name
		}
		for _, attr := range attrRows[row.ID] {
			lm.Attributes = append(lm.Attributes, AttributeManifest{
				Name:         attr.Name,
				Mutable:      attr.Mutable,
				InputType:    attr.InputType,
				DefaultValue: attr.DefaultValue,
				Values:       attr.Values,
			})
		}
		out = append(out, lm)
	}
	return out, mapping, nil
}

// writeMedia copies the task's media tree into data/. Local storage takes
// the whole raw directory; share storage takes only the referenced files,
// resolved against the share root, plus the manifest when one exists.
func (e *Exporter) writeMedia(ctx context.Context, zw *zip.Writer, task *model.Task, data *model.Data, prefix string) error {
	taskRoot := ingest.TaskRoot(e.dataRoot, task.ID)
	rawDir := filepath.Join(taskRoot, ingest.RawDirName)

	if data.Storage != model.StorageShare {
		return copyTreeIntoZip(zw, rawDir, prefix+DataDirName)
	}

	if e.shareRoot == "" {
		return &model.StorageError{Op: "share export", Cause: fmt.Errorf("task %d uses share storage but no share root is configured", task.ID)}
	}
	paths, err := e.referencedPaths(ctx, task, data)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		src := filepath.Join(e.shareRoot, filepath.FromSlash(rel))
		if err := copyFileIntoZip(zw, src, path.Join(prefix+DataDirName, rel)); err != nil {
			return err
		}
	}
	manifestPath := filepath.Join(rawDir, manifest.FileName)
	if _, err := os.Stat(manifestPath); err == nil {
		if err := copyFileIntoZip(zw, manifestPath, path.Join(prefix+DataDirName, manifest.FileName)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) referencedPaths(ctx context.Context, task *model.Task, data *model.Data) ([]string, error) {
	if task.Mode == model.ModeInterpolation {
		video, err := e.store.GetVideo(ctx, data.ID)
		if err != nil {
			return nil, err
		}
		return []string{video.Path}, nil
	}
	images, err := e.store.ListImages(ctx, data.ID)
	if err != nil {
		return nil, err
	}
	related, err := e.store.ListRelated(ctx, data.ID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(images))
	for _, img := range images {
		out = append(out, img.Path)
		for _, companion := range related[img.ID] {
			out = append(out, companion.Path)
		}
	}
	return out, nil
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return &model.StorageError{Op: "archive write", Cause: err}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &model.StorageError{Op: "archive write", Cause: err}
	}
	return nil
}

func copyTreeIntoZip(zw *zip.Writer, root string, destDir string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return &model.StorageError{Op: "media walk", Cause: err}
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return copyFileIntoZip(zw, p, path.Join(destDir, filepath.ToSlash(rel)))
	})
}

func copyFileIntoZip(zw *zip.Writer, src string, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return &model.StorageError{Op: "media read", Cause: err}
	}
	defer f.Close()
	w, err := zw.Create(dest)
	if err != nil {
		return &model.StorageError{Op: "archive write", Cause: err}
	}
	if _, err := io.Copy(w, f); err != nil {
		return &model.StorageError{Op: "archive write", Cause: err}
	}
	return nil
}
