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

// Package model defines the persistent and transient data structures shared by
// the ingestion pipeline, the backup engine, and the services layer. This file
// holds the request-scoped structures: they live for the duration of one
// pipeline or backup run and are never stored.
package model

// TaskParams carries the caller-supplied task attributes of a creation or
// restore request. Overlap is a pointer so the segmenter can distinguish "not
// configured" from an explicit zero.
type TaskParams struct {
	Name        string
	Subset      string
	BugTracker  string
	Mode        TaskMode
	Dimension   Dimension
	SegmentSize int
	Overlap     *int
	ProjectID   int64
	OwnerID     int64
	AssigneeID  int64
	OrgID       int64
}

// DataParams carries the caller-supplied media attributes of a creation or
// restore request. Exactly one of ClientFiles, ServerFiles, RemoteURLs or a
// cloud-storage file set is expected to be non-empty, validated by the
// pipeline rather than here.
type DataParams struct {
	ChunkSize     *int // nil selects the size automatically from frame dimensions
	ImageQuality  int
	StartFrame    int
	StopFrame     *int
	FrameFilter   string
	Storage       StorageLocation
	StorageMethod StorageMethod
	SortingMethod SortingMethod
	UseZipChunks  bool
	UseCache      bool

	ClientFiles []string // uploaded into the task's upload directory
	ServerFiles []string // relative to the shared read-only root
	RemoteURLs  []string // http/https sources, downloaded by the pipeline

	CloudStoragePrefix string
	FilenamePattern    string // glob expanded against the cloud manifest

	// JobFileMapping assigns specific files to specific jobs, bypassing
	// size-based segmenting. List i holds the files of job i in frame order.
	JobFileMapping [][]string

	// CopyData materializes share files locally instead of referencing them.
	CopyData bool
}

// HasCustomSegments reports whether the request carries an explicit per-job
// file assignment.
func (p *DataParams) HasCustomSegments() bool {
	return len(p.JobFileMapping) > 0
}
