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

// Package backup serializes tasks and projects into portable zip archives
// and reconstructs them. Archives are schema-stable across database id
// churn: labels and attributes travel by name, never by id.
//
// This file defines the archive manifest structures. They are an explicit
// allow-list: a field absent here never enters an archive, and an unknown
// top-level key found while decoding is logged and dropped rather than
// carried along.
package backup

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"strings"
)

// Version is the archive format tag. Decoding checks it before anything
// else; there is exactly one supported value.
const Version = "1.0"

// Well-known entry names inside an archive.
const (
	TaskManifestName    = "task.json"
	ProjectManifestName = "project.json"
	AnnotationsName     = "annotations.json"
	DataDirName         = "data"
	AuxDirName          = "task"
)

// AttributeManifest is the portable form of one attribute spec.
type AttributeManifest struct {
	Name         string   `json:"name"`
	Mutable      bool     `json:"mutable"`
	InputType    string   `json:"input_type"`
	DefaultValue string   `json:"default_value"`
	Values       []string `json:"values"`
}

// LabelManifest is the portable form of one label. Parent references the
// parent label by name so the tree can be rebuilt top-down without ids. SVG
// skeleton templates travel with sublabel references rewritten to names.
type LabelManifest struct {
	Name       string              `json:"name"`
	Color      string              `json:"color"`
	Type       string              `json:"type"`
	Parent     string              `json:"parent,omitempty"`
	SVG        string              `json:"svg,omitempty"`
	Attributes []AttributeManifest `json:"attributes"`
}

// JobManifest captures one job's segment boundaries and review state. Files
// is only present for custom-partitioned tasks and holds the segment's
// literal file list in frame order.
type JobManifest struct {
	StartFrame int      `json:"start_frame"`
	StopFrame  int      `json:"stop_frame"`
	Status     string   `json:"status"`
	Stage      string   `json:"stage"`
	Files      []string `json:"files,omitempty"`
}

// DataManifest mirrors the data row's effective settings.
type DataManifest struct {
	ChunkSize      int    `json:"chunk_size"`
	ImageQuality   int    `json:"image_quality"`
	StartFrame     int    `json:"start_frame"`
	StopFrame      int    `json:"stop_frame"`
	FrameFilter    string `json:"frame_filter"`
	Storage        string `json:"storage"`
	StorageMethod  string `json:"storage_method"`
	ChunkType      string `json:"chunk_type"`
	SortingMethod  string `json:"sorting_method"`
	DeletedFrames  []int  `json:"deleted_frames"`
	CustomSegments bool   `json:"custom_segments,omitempty"`
}

// TaskManifest is the root document of a task archive.
type TaskManifest struct {
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Subset      string          `json:"subset,omitempty"`
	BugTracker  string          `json:"bug_tracker,omitempty"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode"`
	Dimension   string          `json:"dimension"`
	SegmentSize int             `json:"segment_size"`
	Overlap     int             `json:"overlap"`
	Labels      []LabelManifest `json:"labels"`
	Jobs        []JobManifest   `json:"jobs"`
	Data        DataManifest    `json:"data"`
}

// ProjectManifest is the root document of a project archive. Member tasks
// live in task_{n}/ subtrees with task manifests of their own; their labels
// sections are empty because the vocabulary belongs to the project.
type ProjectManifest struct {
	Version    string          `json:"version"`
	Name       string          `json:"name"`
	BugTracker string          `json:"bug_tracker,omitempty"`
	Status     string          `json:"status"`
	Dimension  string          `json:"dimension"`
	Labels     []LabelManifest `json:"labels"`
}

// decodeManifest unmarshals raw into out and warns about every top-level
// key that is not part of out's allow-list. Foreign keys are a signal of an
// archive produced by a newer or divergent writer, worth surfacing but not
// worth failing over once the version tag matched.
func decodeManifest(raw []byte, out any) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	allowed := jsonFieldSet(out)
	for key := range keys {
		if !allowed[key] {
			slog.Warn("ignoring unknown archive manifest key", "key", key)
		}
	}
	return json.Unmarshal(raw, out)
}

func jsonFieldSet(v any) map[string]bool {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		out[strings.Split(tag, ",")[0]] = true
	}
	return out
}

// peekVersion extracts just the version tag so unsupported archives fail
// before any other field is trusted.
func peekVersion(raw []byte) (string, error) {
	var head struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	return head.Version, nil
}
