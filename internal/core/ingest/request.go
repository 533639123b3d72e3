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

// Package ingest is the task data-ingestion pipeline: a chain of workflow
// commands that takes a creation or restore request from raw uploaded bytes
// to a fully segmented task. The stages gather sources, classify them,
// build a frame extractor, resolve the manifest, write chunk artifacts,
// persist the frame rows and finally commit segments and jobs atomically.
//
// This file defines the Request, the single state object every command in
// the chain reads from and writes to.
package ingest

import (
	"fmt"
	"path/filepath"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/manifest"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// Directory names inside a task root.
const (
	RawDirName        = "raw"
	OriginalDirName   = "original"
	CompressedDirName = "compressed"
)

// TaskRoot returns the per-task directory under the configured data root.
// Every pipeline artifact of a task lives beneath it.
func TaskRoot(dataRoot string, taskID int64) string {
	return filepath.Join(dataRoot, fmt.Sprintf("task_%d", taskID))
}

// GetRequestName returns the workflow context key the pipeline Request
// travels under, so commands outside the piped flow can still reach it.
func GetRequestName() string {
	return "__TASK_REQUEST__"
}

// Request is the shared state of one ingestion run. The caller fills the
// input section; the pipeline commands fill the rest as they execute.
type Request struct {
	Task       *model.Task
	TaskParams model.TaskParams
	DataParams model.DataParams

	// TaskRoot is the per-task directory. Raw media lives in TaskRoot/raw,
	// chunk artifacts in TaskRoot/original and TaskRoot/compressed.
	TaskRoot  string
	ShareRoot string

	// Restore marks a backup-archive replay. Restore runs force predefined
	// ordering and take their frame order from OrderOverride.
	Restore bool
	// OrderOverride, when non-empty, is the authoritative root-relative
	// frame order. Restores and explicit job-file mappings set it.
	OrderOverride []string
	// Seed feeds the random sort so a rerun shuffles identically.
	Seed int64

	Store      *sqlite.Backend
	Downloader *cloud.Downloader
	Reader     *cloud.CloudReader

	RenderPages    media.PageRenderer
	ProbeVideo     media.VideoProber
	ProbeKeyFrames manifest.KeyFrameProber

	// Workers bounds the chunk-encoding pool. Zero means one worker.
	Workers int

	// Populated by the pipeline.
	files         []string // absolute paths of every gathered source file
	buckets       map[media.Kind][]string
	kind          media.Kind
	extractor     media.Extractor
	related       map[string][]string // primary abs path -> companion abs paths
	manifest      *manifest.ImageManifest
	videoManifest *manifest.VideoManifest
	selected      []int // frame ordinals kept after start/stop/step filtering
	chunkSize     int
	frameDims     []media.Dim
	data          *model.Data
	images        []*model.Image
}

// RawDir returns the directory uploaded and downloaded media lands in.
func (r *Request) RawDir() string {
	return filepath.Join(r.TaskRoot, RawDirName)
}

// OriginalDir returns the directory of lossless chunk artifacts.
func (r *Request) OriginalDir() string {
	return filepath.Join(r.TaskRoot, OriginalDirName)
}

// CompressedDir returns the directory of quality-reduced chunk artifacts.
func (r *Request) CompressedDir() string {
	return filepath.Join(r.TaskRoot, CompressedDirName)
}

// ManifestPath returns where the task's frame manifest is persisted.
func (r *Request) ManifestPath() string {
	return filepath.Join(r.RawDir(), manifest.FileName)
}

// Extractor exposes the built frame source to callers outside the pipeline,
// primarily the backup exporter reusing ingestion output.
func (r *Request) Extractor() media.Extractor {
	return r.extractor
}

// Data exposes the persisted data row after the pipeline has run.
func (r *Request) Data() *model.Data {
	return r.data
}

// effectiveSort resolves the sorting method actually applied. Restores and
// explicit job-file mappings dictate their own order, so they force
// predefined regardless of what the caller asked for.
func (r *Request) effectiveSort() model.SortingMethod {
	if r.Restore || r.DataParams.HasCustomSegments() || len(r.OrderOverride) > 0 {
		return model.SortPredefined
	}
	if r.DataParams.SortingMethod == "" {
		return model.SortLexicographical
	}
	return r.DataParams.SortingMethod
}

// recordedSort resolves the sorting method written back to the data row. A
// random shuffle on a cached task must be replayable from the manifest, so
// it is recorded as predefined once the order is fixed.
func (r *Request) recordedSort() model.SortingMethod {
	actual := r.effectiveSort()
	if actual == model.SortRandom && r.DataParams.StorageMethod == model.StorageMethodCache {
		return model.SortPredefined
	}
	return actual
}
