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
// beside the task data. The format is JSON lines: a version line, a type
// line, then one record per frame (image manifests) or per keyframe (video
// manifests). A sidecar .index file caches the byte offset of every record
// line so cached tasks can seek to a frame without scanning the manifest.
//
// This file covers the image variant; video.go covers the keyframe variant.
package manifest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Version is the manifest format version written by this backend.
const Version = "1.1"

// FileName is the well-known manifest name inside a task data directory.
const FileName = "manifest.jsonl"

// Meta carries the optional per-frame extras.
type Meta struct {
	RelatedImages []string `json:"related_images,omitempty"`
}

// ImageEntry is one frame record. Name is the root-relative path without its
// extension; Extension keeps the leading dot.
type ImageEntry struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Meta      *Meta  `json:"meta,omitempty"`
}

// FullName reassembles the root-relative file path of the entry.
func (e *ImageEntry) FullName() string {
	return e.Name + e.Extension
}

// ImageManifest is the in-memory form of an image manifest. Entry order is
// the chunk/frame order actually used by the task.
type ImageManifest struct {
	Entries []ImageEntry
}

// header lines shared by both manifest variants.
type versionLine struct {
	Version string `json:"version"`
}

type typeLine struct {
	Type string `json:"type"`
}

// BuildImageManifest walks every frame of the extractor, recording its
// dimensions and companions in extractor order.
func BuildImageManifest(ex media.Extractor) (*ImageManifest, error) {
	m := &ImageManifest{Entries: make([]ImageEntry, 0, ex.Len())}
	sources := ex.SourcePaths()
	for i := 0; i < ex.Len(); i++ {
		w, h, err := ex.Dimensions(i)
		if err != nil {
			return nil, err
		}
		src := sources[i]
		ext := filepath.Ext(src)
		entry := ImageEntry{
			Name:      strings.TrimSuffix(src, ext),
			Extension: ext,
			Width:     w,
			Height:    h,
		}
		if related := ex.Related(i); len(related) > 0 {
			entry.Meta = &Meta{RelatedImages: related}
		}
		m.Entries = append(m.Entries, entry)
	}
	return m, nil
}

// Names returns the ordered root-relative file names of every entry.
func (m *ImageManifest) Names() []string {
	out := make([]string, len(m.Entries))
	for i := range m.Entries {
		out[i] = m.Entries[i].FullName()
	}
	return out
}

// Validate checks that every listed file actually exists according to the
// supplied predicate. The first miss fails with an IntegrityError naming the
// file, so the caller can surface the exact offender.
func (m *ImageManifest) Validate(present func(name string) bool) error {
	if len(m.Entries) == 0 {
		return model.NewValidationError("manifest holds no entries")
	}
	for i := range m.Entries {
		if name := m.Entries[i].FullName(); !present(name) {
			return &model.IntegrityError{File: name, Reason: "listed in the manifest but absent from the task data"}
		}
	}
	return nil
}

// Subset keeps only the requested file names, preserving manifest order, and
// reapplies the given path prefix to every entry. Cloud-storage tasks use
// this to carve the task's own manifest out of the bucket-wide one. A
// requested name missing from the manifest is an integrity failure.
func (m *ImageManifest) Subset(requested []string, prefix string) (*ImageManifest, error) {
	byName := make(map[string]int, len(m.Entries))
	for i := range m.Entries {
		byName[m.Entries[i].FullName()] = i
	}
	out := &ImageManifest{Entries: make([]ImageEntry, 0, len(requested))}
	for _, name := range requested {
		trimmed := strings.TrimPrefix(name, prefix)
		trimmed = strings.TrimPrefix(trimmed, "/")
		i, ok := byName[trimmed]
		if !ok {
			return nil, &model.IntegrityError{File: name, Reason: "not listed in the cloud storage manifest"}
		}
		entry := m.Entries[i]
		if prefix != "" {
			entry.Name = strings.TrimSuffix(prefix, "/") + "/" + entry.Name
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// Save writes the manifest and its .index sidecar. The sidecar holds the
// byte offset of every record line, one decimal per line.
func (m *ImageManifest) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &model.StorageError{Op: "manifest write", Cause: err}
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	offset, err := writeHeader(w, "images")
	if err != nil {
		return err
	}
	offsets := make([]int64, 0, len(m.Entries))
	for i := range m.Entries {
		offsets = append(offsets, offset)
		n, err := writeRecord(w, &m.Entries[i])
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

// LoadImageManifest parses a manifest written by Save or uploaded by a user.
// Header lines are validated; a wrong type or version is a hard failure so a
// video manifest can never masquerade as an image one.
func LoadImageManifest(path string) (*ImageManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.StorageError{Op: "manifest open", Cause: err}
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	if err := readHeader(scanner, "images"); err != nil {
		return nil, err
	}
	m := &ImageManifest{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ImageEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, model.NewValidationError("malformed manifest record: %v", err)
		}
		m.Entries = append(m.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, &model.StorageError{Op: "manifest read", Cause: err}
	}
	return m, nil
}

// writeHeader emits the version and type lines and returns the byte offset
// following them.
func writeHeader(w *bufio.Writer, manifestType string) (int64, error) {
	var offset int64
	for _, v := range []any{versionLine{Version: Version}, typeLine{Type: manifestType}} {
		n, err := writeRecord(w, v)
		if err != nil {
			return 0, err
		}
		offset += n
	}
	return offset, nil
}

// readHeader consumes and checks the two header lines.
func readHeader(scanner *bufio.Scanner, wantType string) error {
	var ver versionLine
	if err := scanLine(scanner, &ver); err != nil {
		return err
	}
	if ver.Version != Version {
		return model.NewValidationError("unsupported manifest version %q", ver.Version)
	}
	var typ typeLine
	if err := scanLine(scanner, &typ); err != nil {
		return err
	}
	if typ.Type != wantType {
		return model.NewValidationError("manifest type %q does not match expected %q", typ.Type, wantType)
	}
	return nil
}

func scanLine(scanner *bufio.Scanner, out any) error {
	if !scanner.Scan() {
		return model.NewValidationError("manifest is truncated")
	}
	if err := json.Unmarshal(scanner.Bytes(), out); err != nil {
		return model.NewValidationError("malformed manifest header: %v", err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, v any) (int64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, &model.StorageError{Op: "manifest encode", Cause: err}
	}
	n, err := w.Write(append(raw, '\n'))
	if err != nil {
		return 0, &model.StorageError{Op: "manifest write", Cause: err}
	}
	return int64(n), nil
}

// IndexPath returns the sidecar path of a manifest.
func IndexPath(manifestPath string) string {
	return manifestPath + ".index"
}

func saveIndex(manifestPath string, offsets []int64) error {
	f, err := os.Create(IndexPath(manifestPath))
	if err != nil {
		return &model.StorageError{Op: "manifest index write", Cause: err}
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)
	for _, off := range offsets {
		if _, err := fmt.Fprintf(w, "%d\n", off); err != nil {
			return &model.StorageError{Op: "manifest index write", Cause: err}
		}
	}
	if err := w.Flush(); err != nil {
		return &model.StorageError{Op: "manifest index write", Cause: err}
	}
	return nil
}

// LoadIndex reads the sidecar offsets; the slice index is the frame ordinal.
func LoadIndex(manifestPath string) ([]int64, error) {
	f, err := os.Open(IndexPath(manifestPath))
	if err != nil {
		return nil, &model.StorageError{Op: "manifest index open", Cause: err}
	}
	defer func() { _ = f.Close() }()
	var offsets []int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		off, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, model.NewValidationError("malformed manifest index: %v", err)
		}
		offsets = append(offsets, off)
	}
	return offsets, scanner.Err()
}
