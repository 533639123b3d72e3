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

// Package media classifies uploaded files, orders them deterministically and
// turns them into frame extractors and chunk artifacts. This file defines the
// closed media-kind enumeration and its single dispatch table: every
// behavioral difference between kinds (does it demand exclusivity, which task
// mode does it imply) lives in one place instead of being scattered through
// the pipeline.
package media

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Kind is the closed set of media categories the pipeline understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
	KindArchive
	KindDirectory
	KindPdf
	// KindManifest marks an uploaded .jsonl index. It is routed to manifest
	// resolution, never to an extractor.
	KindManifest
)

// String returns the lower-case kind name used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindArchive:
		return "archive"
	case KindDirectory:
		return "directory"
	case KindPdf:
		return "pdf"
	case KindManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// kindTraits drives all kind-dependent decisions in the pipeline.
type kindTraits struct {
	// unique kinds tolerate exactly one entry of their own kind and no
	// entries of any other media kind.
	unique bool
	// mode is the task mode the kind implies.
	mode model.TaskMode
}

var kindTable = map[Kind]kindTraits{
	KindImage:     {unique: false, mode: model.ModeAnnotation},
	KindVideo:     {unique: true, mode: model.ModeInterpolation},
	KindArchive:   {unique: true, mode: model.ModeAnnotation},
	KindDirectory: {unique: false, mode: model.ModeAnnotation},
	KindPdf:       {unique: true, mode: model.ModeAnnotation},
}

// Unique reports whether the kind demands exclusivity over the upload set.
func (k Kind) Unique() bool { return kindTable[k].unique }

// Mode returns the task mode implied by the kind.
func (k Kind) Mode() model.TaskMode { return kindTable[k].mode }

// extensionKinds is the fallback used when content sniffing is inconclusive,
// which happens for text-like formats and for files that cannot be opened yet
// (cloud entries classified by name only).
var extensionKinds = map[string]Kind{
	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage, ".gif": KindImage,
	".bmp": KindImage, ".webp": KindImage, ".tif": KindImage, ".tiff": KindImage,
	".mp4": KindVideo, ".avi": KindVideo, ".mov": KindVideo, ".mkv": KindVideo,
	".webm": KindVideo, ".mpg": KindVideo, ".mpeg": KindVideo,
	".zip": KindArchive,
	".pdf": KindPdf,
	".jsonl": KindManifest,
}

// Classify determines the media kind of a single path. Directories are
// detected by stat; regular files are content-sniffed with an extension
// fallback so a renamed file cannot smuggle a second kind into the set.
func Classify(path string) Kind {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return KindDirectory
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".jsonl" {
		return KindManifest
	}
	if kind := classifyByContent(path); kind != KindUnknown {
		return kind
	}
	return extensionKinds[ext]
}

// ClassifyName determines the media kind from a name alone, for entries
// that only exist remotely and cannot be sniffed.
func ClassifyName(name string) Kind {
	return extensionKinds[strings.ToLower(filepath.Ext(name))]
}

// classifyByContent sniffs the file header with the filetype matchers.
func classifyByContent(path string) Kind {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 262)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return KindUnknown
	}
	t, err := filetype.Match(head[:n])
	if err != nil || t == filetype.Unknown {
		return KindUnknown
	}
	switch {
	case strings.HasPrefix(t.MIME.Value, "image/"):
		return KindImage
	case strings.HasPrefix(t.MIME.Value, "video/"):
		return KindVideo
	case t == matchers.TypeZip:
		return KindArchive
	case t == matchers.TypePdf:
		return KindPdf
	}
	return KindUnknown
}

// ClassifyAll buckets every path by kind and enforces the exclusivity rules:
// a unique kind tolerates exactly one file in total, and all media files must
// agree on a single task mode. Unknown files are logged and skipped rather
// than failed, so stray sidecar files do not poison an upload.
//
// Outputs:
//   - map[Kind][]string: the classified buckets, KindManifest included.
//   - error: a ValidationError describing the first conflict found, or the
//     absence of any media file at all.
func ClassifyAll(paths []string) (map[Kind][]string, error) {
	buckets := make(map[Kind][]string)
	for _, p := range paths {
		kind := Classify(p)
		if kind == KindUnknown {
			slog.Warn("skipping unrecognized file", "path", p)
			continue
		}
		buckets[kind] = append(buckets[kind], p)
	}

	mediaCount := 0
	var modes []model.TaskMode
	for kind, files := range buckets {
		if kind == KindManifest {
			continue
		}
		mediaCount += len(files)
		modes = append(modes, kind.Mode())
		if kind.Unique() {
			if len(files) > 1 {
				return nil, model.NewValidationError(
					"only one %s file may be uploaded per task, got %d", kind, len(files))
			}
			if mediaOtherThan(buckets, kind) {
				return nil, model.NewValidationError(
					"a %s file cannot be combined with other media", kind)
			}
		}
	}
	if mediaCount == 0 {
		return nil, model.NewValidationError("no media files found in the upload")
	}
	for _, m := range modes[1:] {
		if m != modes[0] {
			return nil, model.NewValidationError(
				"uploaded files imply conflicting task modes %q and %q", modes[0], m)
		}
	}
	return buckets, nil
}

func mediaOtherThan(buckets map[Kind][]string, kind Kind) bool {
	for k, files := range buckets {
		if k != kind && k != KindManifest && len(files) > 0 {
			return true
		}
	}
	return false
}
