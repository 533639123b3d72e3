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
// holds the annotation payload attached to a job. The payload is stored as one
// JSON document per job; the structures below are the only fields that survive
// an export, so the archive can never leak internal columns.
package model

import "encoding/json"

// AttributeValue assigns a value to an attribute spec. Inside the database the
// spec is referenced by id; inside a backup archive it is referenced by name.
// Exactly one of SpecID or Spec is set depending on the direction.
type AttributeValue struct {
	SpecID int64  `json:"spec_id,omitempty"`
	Spec   string `json:"spec,omitempty"`
	Value  string `json:"value"`
}

// Shape is a single drawn figure on one frame. Elements holds the child
// shapes of a skeleton. LabelID is the database reference; Label is the
// portable name used inside archives.
type Shape struct {
	LabelID    int64            `json:"label_id,omitempty"`
	Label      string           `json:"label,omitempty"`
	Type       string           `json:"type"`
	Occluded   bool             `json:"occluded"`
	Outside    bool             `json:"outside"`
	ZOrder     int              `json:"z_order"`
	Points     []float64        `json:"points"`
	Rotation   float64          `json:"rotation"`
	Frame      int              `json:"frame"`
	Group      int              `json:"group"`
	Source     string           `json:"source"`
	Attributes []AttributeValue `json:"attributes"`
	Elements   []Shape          `json:"elements,omitempty"`
}

// Tag is a frame-level classification.
type Tag struct {
	LabelID    int64            `json:"label_id,omitempty"`
	Label      string           `json:"label,omitempty"`
	Frame      int              `json:"frame"`
	Group      int              `json:"group"`
	Source     string           `json:"source"`
	Attributes []AttributeValue `json:"attributes"`
}

// Track is an interpolated object spanning several frames. Shapes are the
// keyframes; Elements the skeleton children, each a track of its own.
type Track struct {
	LabelID    int64            `json:"label_id,omitempty"`
	Label      string           `json:"label,omitempty"`
	Frame      int              `json:"frame"`
	Group      int              `json:"group"`
	Source     string           `json:"source"`
	Attributes []AttributeValue `json:"attributes"`
	Shapes     []Shape          `json:"shapes"`
	Elements   []Track          `json:"elements,omitempty"`
}

// JobAnnotations is the full annotation payload of one job.
type JobAnnotations struct {
	Version int     `json:"version"`
	Tags    []Tag   `json:"tags"`
	Shapes  []Shape `json:"shapes"`
	Tracks  []Track `json:"tracks"`
}

// EmptyAnnotations returns a payload with initialized empty collections so a
// serialized form never contains JSON nulls.
func EmptyAnnotations() *JobAnnotations {
	return &JobAnnotations{
		Tags:   make([]Tag, 0),
		Shapes: make([]Shape, 0),
		Tracks: make([]Track, 0),
	}
}

// DecodeAnnotations parses a stored payload, treating an empty document as an
// empty payload.
func DecodeAnnotations(raw []byte) (*JobAnnotations, error) {
	if len(raw) == 0 {
		return EmptyAnnotations(), nil
	}
	out := EmptyAnnotations()
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
