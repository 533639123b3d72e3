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

// Package manifest reads and writes the per-task frame index persisted
// beside the task data. This file covers the video variant: a properties
// header followed by keyframe records, one per seekable position. The
// validator guards the invariants cached playback relies on: at least one
// keyframe, strictly increasing frame numbers and non-decreasing timestamps.
package manifest

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// VideoProperties describes the container of a sequence task.
type VideoProperties struct {
	Name       string `json:"name"`
	Resolution [2]int `json:"resolution"`
	Length     int    `json:"length"`
}

// KeyFrame is one seekable position.
type KeyFrame struct {
	Number    int     `json:"number"`
	PTS       int64   `json:"pts"`
	Timestamp float64 `json:"timestamp"`
}

// VideoManifest is the in-memory form of a video manifest.
type VideoManifest struct {
	Properties VideoProperties
	KeyFrames  []KeyFrame
}

// propertiesLine wraps the properties header record.
type propertiesLine struct {
	Properties VideoProperties `json:"properties"`
}

// KeyFrameProber extracts container properties and the keyframe index from a
// video file. The codec doing the work is an opaque collaborator.
type KeyFrameProber func(path string) (VideoProperties, []KeyFrame, error)

// Validate enforces the seekability invariants. Any violation makes the
// manifest unusable for the fast ingestion path.
func (m *VideoManifest) Validate() error {
	if len(m.KeyFrames) == 0 {
		return model.NewValidationError("video manifest holds no keyframes")
	}
	if m.Properties.Length <= 0 {
		return model.NewValidationError("video manifest reports a non-positive frame count")
	}
	prev := m.KeyFrames[0]
	if prev.Number < 0 {
		return model.NewValidationError("video manifest keyframe numbers must start at or after frame 0")
	}
	for _, kf := range m.KeyFrames[1:] {
		if kf.Number <= prev.Number {
			return model.NewValidationError(
				"video manifest keyframe numbers must increase, got %d after %d", kf.Number, prev.Number)
		}
		if kf.Timestamp < prev.Timestamp {
			return model.NewValidationError(
				"video manifest timestamps must not decrease, got %f after %f", kf.Timestamp, prev.Timestamp)
		}
		prev = kf
	}
	if last := m.KeyFrames[len(m.KeyFrames)-1]; last.Number >= m.Properties.Length {
		return model.NewValidationError(
			"video manifest keyframe %d lies past the declared length %d", last.Number, m.Properties.Length)
	}
	return nil
}

// Save writes the manifest and its .index sidecar.
func (m *VideoManifest) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &model.StorageError{Op: "manifest write", Cause: err}
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	offset, err := writeHeader(w, "video")
	if err != nil {
		return err
	}
	n, err := writeRecord(w, propertiesLine{Properties: m.Properties})
	if err != nil {
		return err
	}
	offset += n

	offsets := make([]int64, 0, len(m.KeyFrames))
	for i := range m.KeyFrames {
		offsets = append(offsets, offset)
		n, err := writeRecord(w, &m.KeyFrames[i])
		if err != nil {
			return err
		}
		offset += n
	}
	if err := w.Flush(); err != nil {
		return &model.StorageError{Op: "manifest write", Cause: err}
	}
	return saveIndex(path, offsets)
}

// LoadVideoManifest parses a video manifest from disk.
func LoadVideoManifest(path string) (*VideoManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.StorageError{Op: "manifest open", Cause: err}
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	if err := readHeader(scanner, "video"); err != nil {
		return nil, err
	}
	var props propertiesLine
	if err := scanLine(scanner, &props); err != nil {
		return nil, err
	}
	m := &VideoManifest{Properties: props.Properties}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var kf KeyFrame
		if err := json.Unmarshal([]byte(line), &kf); err != nil {
			return nil, model.NewValidationError("malformed keyframe record: %v", err)
		}
		m.KeyFrames = append(m.KeyFrames, kf)
	}
	if err := scanner.Err(); err != nil {
		return nil, &model.StorageError{Op: "manifest read", Cause: err}
	}
	return m, nil
}
