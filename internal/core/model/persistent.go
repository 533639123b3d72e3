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
// holds the row types that are stored in the relational backend, together with
// the closed enumerations that constrain them.
//
// Structs:
//   - Project, Task, Data: the entity hierarchy (a Task owns exactly one Data).
//   - Image, Video, RelatedFile: frame rows created in bulk at the end of ingestion.
//   - Segment, Job: the frame-range partition produced by the segmenter.
//   - Label, Attribute: the annotation vocabulary, scoped to a task or project.
package model

import (
	"strconv"
	"strings"
	"time"
)

// TaskMode describes how annotations relate to frames.
type TaskMode string

const (
	// ModeAnnotation treats every frame as an independent image.
	ModeAnnotation TaskMode = "annotation"
	// ModeInterpolation treats frames as an ordered video sequence.
	ModeInterpolation TaskMode = "interpolation"
)

// Dimension describes whether the task media is flat or volumetric.
type Dimension string

const (
	Dim2D Dimension = "2d"
	Dim3D Dimension = "3d"
)

// StorageLocation tells where the raw media lives.
type StorageLocation string

const (
	StorageLocal        StorageLocation = "local"
	StorageShare        StorageLocation = "share"
	StorageCloudStorage StorageLocation = "cloud_storage"
)

// StorageMethod selects how chunks are materialized: eagerly on the file
// system or lazily through the cache.
type StorageMethod string

const (
	StorageMethodFileSystem StorageMethod = "file_system"
	StorageMethodCache      StorageMethod = "cache"
)

// SortingMethod orders the discovered files before chunking.
type SortingMethod string

const (
	SortLexicographical SortingMethod = "lexicographical"
	SortNatural         SortingMethod = "natural"
	SortRandom          SortingMethod = "random"
	SortPredefined      SortingMethod = "predefined"
)

// ChunkType names the artifact format of the compressed chunks.
type ChunkType string

const (
	ChunkImageset ChunkType = "imageset"
	ChunkVideo    ChunkType = "video"
)

// SegmentType distinguishes plain frame ranges from explicit file lists.
type SegmentType string

const (
	SegmentRange         SegmentType = "range"
	SegmentSpecificFiles SegmentType = "specific_files"
)

// Project groups tasks that share a label vocabulary. All sibling tasks must
// carry the project's dimension.
type Project struct {
	ID         int64
	Name       string
	BugTracker string
	Status     string
	Dimension  Dimension
	OwnerID    int64
	OrgID      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Task is the unit of annotation work. SegmentSize and Overlap hold the
// effective values written back after segmentation, not the raw request.
type Task struct {
	ID          int64
	ProjectID   int64 // zero when the task is standalone
	Name        string
	Mode        TaskMode
	Dimension   Dimension
	SegmentSize int
	Overlap     int
	BugTracker  string
	Status      string
	Subset      string
	OwnerID     int64
	AssigneeID  int64
	OrgID       int64
	DataID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Data is the media bundle behind a task. It is created once at ingestion
// start, mutated only by the pipeline, and immutable afterwards except for
// DeletedFrames.
type Data struct {
	ID            int64
	Size          int
	StartFrame    int
	StopFrame     int
	FrameFilter   string // e.g. "step=2", empty for every frame
	ChunkSize     int
	ImageQuality  int
	Storage       StorageLocation
	StorageMethod StorageMethod
	ChunkType     ChunkType
	SortingMethod SortingMethod
	DeletedFrames []int
}

// FrameStep parses the step out of FrameFilter, defaulting to 1.
func (d *Data) FrameStep() int {
	if strings.HasPrefix(d.FrameFilter, "step=") {
		if v, err := strconv.Atoi(strings.TrimPrefix(d.FrameFilter, "step=")); err == nil && v > 0 {
			return v
		}
	}
	return 1
}

// Image is one frame row. Frame ordinals are contiguous and match the
// manifest order used for chunking.
type Image struct {
	ID     int64
	DataID int64
	Path   string // relative to the task upload root
	Frame  int
	Width  int
	Height int
}

// Video is the single media row for sequence tasks.
type Video struct {
	ID     int64
	DataID int64
	Path   string
	Width  int
	Height int
}

// RelatedFile attaches an auxiliary sibling (a 3D point-cloud companion, for
// example) to its primary frame.
type RelatedFile struct {
	ID           int64
	DataID       int64
	PrimaryImage int64
	Path         string
}

// Segment is one contiguous frame range of a task, or an explicit file list
// for custom-partitioned tasks. For SegmentSpecificFiles the length of Files
// equals StopFrame-StartFrame+1.
type Segment struct {
	ID         int64
	TaskID     int64
	StartFrame int
	StopFrame  int
	Type       SegmentType
	Files      []string
}

// Job is the worker-facing view of a segment, 1:1 in this design.
type Job struct {
	ID        int64
	SegmentID int64
	Status    string
	Stage     string
}

// Label is one node of the annotation vocabulary tree. ParentID is zero for
// roots; SVG carries the skeleton template for skeleton labels.
type Label struct {
	ID        int64
	TaskID    int64 // zero when the label belongs to a project
	ProjectID int64
	ParentID  int64
	Name      string
	Color     string
	Type      string
	SVG       string
}

// Attribute is one attribute specification under a label.
type Attribute struct {
	ID           int64
	LabelID      int64
	Name         string
	Mutable      bool
	InputType    string
	DefaultValue string
	Values       []string
}

// CloudUpload records one object that landed in the upload bucket, as seen
// through its storage notification. Clients browse these records when
// picking cloud files for a new task.
type CloudUpload struct {
	ID          int64
	Bucket      string
	ObjectName  string
	ContentType string
	SizeBytes   int64
	RecordedAt  time.Time
}
