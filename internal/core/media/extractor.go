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
// Extractor abstraction and its concrete implementations, selected through a
// single dispatch table keyed by media kind.
//
// An Extractor yields frames in a defined order and answers size, per-frame
// dimension and relative-path lookups. Construction is where each kind's
// preparation happens: archives are expanded, directories walked, pdf pages
// rendered, videos probed. After construction every kind behaves uniformly.
package media

import (
	"archive/zip"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Register the stdlib decoders used for dimension queries. The codecs
	// themselves stay opaque to the pipeline.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ReconcileOpts carries the optional companion map applied during the
// reconciliation pass.
type ReconcileOpts struct {
	// Related maps a primary source path to its companion files.
	Related map[string][]string
}

// Extractor is the uniform frame source consumed by chunking, manifest
// building and persistence. Frame ordinals run 0..Len()-1 in final order.
type Extractor interface {
	// Len returns the number of frames.
	Len() int

	// SourcePaths returns the ordered frame paths relative to the task root.
	SourcePaths() []string

	// Path returns the absolute path backing frame i. For sequence media
	// every frame shares the single container path.
	Path(i int) (string, error)

	// Dimensions returns the pixel size of frame i.
	Dimensions(i int) (width int, height int, err error)

	// Contains reports whether the extractor owns the given root-relative path.
	Contains(path string) bool

	// Reconcile imposes an authoritative frame order. Every entry of sources
	// must already be owned by the extractor; a missing entry fails with an
	// IntegrityError naming it. Files not listed in sources are dropped.
	Reconcile(sources []string, opts ReconcileOpts) error

	// Related returns the companion files of frame i, root-relative.
	Related(i int) []string

	// Progress reports the position of frame i as a fraction of the whole.
	Progress(i int) float64
}

// PageRenderer turns a pdf into a page-image directory. The rendering codec
// is an opaque collaborator injected by the caller.
type PageRenderer func(pdfPath string, destDir string) ([]string, error)

// VideoProber reads container metadata for a video file. The decoding codec
// is an opaque collaborator injected by the caller.
type VideoProber func(path string) (VideoMeta, error)

// VideoMeta is the probed shape of a video container.
type VideoMeta struct {
	Frames int
	Width  int
	Height int
}

// Builder constructs the extractor for a classified bucket of files. One
// builder is created per pipeline run.
type Builder struct {
	Root          string
	SortingMethod model.SortingMethod
	Seed          int64
	RenderPages   PageRenderer
	ProbeVideo    VideoProber
}

// buildFuncs is the kind dispatch table. Adding a media kind means adding
// exactly one row here and one in the traits table.
var buildFuncs = map[Kind]func(*Builder, []string) (Extractor, error){
	KindImage:     (*Builder).buildImages,
	KindDirectory: (*Builder).buildDirectory,
	KindArchive:   (*Builder).buildArchive,
	KindPdf:       (*Builder).buildPdf,
	KindVideo:     (*Builder).buildVideo,
}

// Build dispatches construction on the media kind.
func (b *Builder) Build(kind Kind, files []string) (Extractor, error) {
	fn, ok := buildFuncs[kind]
	if !ok {
		return nil, model.NewValidationError("media kind %q has no extractor", kind)
	}
	return fn(b, files)
}

func (b *Builder) buildImages(files []string) (Extractor, error) {
	ordered, err := Sort(files, b.SortingMethod, b.Seed)
	if err != nil {
		return nil, err
	}
	e, err := newImageExtractor(b.Root, ordered)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (b *Builder) buildDirectory(dirs []string) (Extractor, error) {
	var files []string
	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && Classify(path) == KindImage {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, &model.StorageError{Op: "directory walk", Cause: err}
		}
	}
	if len(files) == 0 {
		return nil, model.NewValidationError("uploaded directories contain no images")
	}
	return b.buildImages(files)
}

func (b *Builder) buildArchive(files []string) (Extractor, error) {
	expanded, err := ExpandArchive(files[0], filepath.Dir(files[0]))
	if err != nil {
		return nil, err
	}
	// The archive itself must not linger among the sources.
	if err := os.Remove(files[0]); err != nil {
		return nil, &model.StorageError{Op: "archive cleanup", Cause: err}
	}
	var images []string
	for _, f := range expanded {
		if Classify(f) == KindImage {
			images = append(images, f)
		}
	}
	if len(images) == 0 {
		return nil, model.NewValidationError("archive %s contains no images", filepath.Base(files[0]))
	}
	return b.buildImages(images)
}

func (b *Builder) buildPdf(files []string) (Extractor, error) {
	if b.RenderPages == nil {
		return nil, model.NewValidationError("pdf uploads are not supported without a page renderer")
	}
	pageDir := strings.TrimSuffix(files[0], filepath.Ext(files[0]))
	pages, err := b.RenderPages(files[0], pageDir)
	if err != nil {
		return nil, &model.StorageError{Op: "pdf page rendering", Cause: err}
	}
	// Page order is the document order regardless of the task sort method.
	e, err := newImageExtractor(b.Root, pages)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (b *Builder) buildVideo(files []string) (Extractor, error) {
	if b.ProbeVideo == nil {
		return nil, model.NewValidationError("video uploads are not supported without a prober")
	}
	meta, err := b.ProbeVideo(files[0])
	if err != nil {
		return nil, &model.TransientMediaError{Reason: "video probe failed", Cause: err}
	}
	return NewVideoExtractor(b.Root, files[0], meta), nil
}

// imageExtractor is the frame source for every flat-image kind. Directories,
// archives and pdfs all funnel into it once their files are materialized.
type imageExtractor struct {
	root    string
	files   []string // absolute, in final order
	rel     []string // root-relative mirror of files
	related map[string][]string
}

func newImageExtractor(root string, files []string) (*imageExtractor, error) {
	e := &imageExtractor{root: root, files: files, related: make(map[string][]string)}
	e.rel = make([]string, len(files))
	for i, f := range files {
		r, err := relativeTo(root, f)
		if err != nil {
			return nil, err
		}
		e.rel[i] = r
	}
	return e, nil
}

func (e *imageExtractor) Len() int              { return len(e.files) }
func (e *imageExtractor) SourcePaths() []string { return append([]string(nil), e.rel...) }

func (e *imageExtractor) Path(i int) (string, error) {
	if i < 0 || i >= len(e.files) {
		return "", fmt.Errorf("frame %d out of range [0,%d)", i, len(e.files))
	}
	return e.files[i], nil
}

func (e *imageExtractor) Dimensions(i int) (int, int, error) {
	path, err := e.Path(i)
	if err != nil {
		return 0, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, &model.StorageError{Op: "frame open", Cause: err}
	}
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, &model.TransientMediaError{Reason: "undecodable frame " + filepath.Base(path), Cause: err}
	}
	return cfg.Width, cfg.Height, nil
}

func (e *imageExtractor) Contains(path string) bool {
	return e.indexOf(path) >= 0
}

func (e *imageExtractor) indexOf(path string) int {
	for i, r := range e.rel {
		if r == path || e.files[i] == path {
			return i
		}
	}
	return -1
}

func (e *imageExtractor) Reconcile(sources []string, opts ReconcileOpts) error {
	files := make([]string, 0, len(sources))
	rel := make([]string, 0, len(sources))
	for _, src := range sources {
		i := e.indexOf(src)
		if i < 0 {
			return &model.IntegrityError{File: src, Reason: "listed but not present among uploaded files"}
		}
		files = append(files, e.files[i])
		rel = append(rel, e.rel[i])
	}
	e.files, e.rel = files, rel

	if opts.Related != nil {
		related := make(map[string][]string, len(opts.Related))
		for primary, companions := range opts.Related {
			i := e.indexOf(primary)
			if i < 0 {
				return &model.IntegrityError{File: primary, Reason: "companion files reference a missing primary frame"}
			}
			cleaned := make([]string, 0, len(companions))
			for _, c := range companions {
				r, err := relativeTo(e.root, c)
				if err != nil {
					return err
				}
				cleaned = append(cleaned, r)
			}
			related[e.rel[i]] = cleaned
		}
		e.related = related
	}
	return nil
}

func (e *imageExtractor) Related(i int) []string {
	if i < 0 || i >= len(e.rel) {
		return nil
	}
	return e.related[e.rel[i]]
}

func (e *imageExtractor) Progress(i int) float64 {
	if len(e.files) == 0 {
		return 0
	}
	return float64(i+1) / float64(len(e.files))
}

// VideoExtractor treats one container file as a sequence of frames. Frame
// payloads are never decoded here; only the probed metadata is exposed.
type VideoExtractor struct {
	root string
	path string
	rel  string
	meta VideoMeta
}

// NewVideoExtractor wraps a probed video container.
func NewVideoExtractor(root string, path string, meta VideoMeta) *VideoExtractor {
	rel, err := relativeTo(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return &VideoExtractor{root: root, path: path, rel: rel, meta: meta}
}

func (e *VideoExtractor) Len() int              { return e.meta.Frames }
func (e *VideoExtractor) SourcePaths() []string { return []string{e.rel} }

func (e *VideoExtractor) Path(int) (string, error) { return e.path, nil }

func (e *VideoExtractor) Dimensions(int) (int, int, error) {
	return e.meta.Width, e.meta.Height, nil
}

func (e *VideoExtractor) Contains(path string) bool {
	return path == e.rel || path == e.path
}

func (e *VideoExtractor) Reconcile(sources []string, _ ReconcileOpts) error {
	for _, src := range sources {
		if !e.Contains(src) {
			return &model.IntegrityError{File: src, Reason: "listed but not present among uploaded files"}
		}
	}
	return nil
}

func (e *VideoExtractor) Related(int) []string { return nil }

func (e *VideoExtractor) Progress(i int) float64 {
	if e.meta.Frames == 0 {
		return 0
	}
	return float64(i+1) / float64(e.meta.Frames)
}

// ExpandArchive unpacks a zip into destDir and returns the extracted file
// paths. Entries escaping the destination directory fail with a
// SecurityError before anything is written.
func ExpandArchive(zipPath string, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, model.NewValidationError("cannot open archive %s: %v", filepath.Base(zipPath), err)
	}
	defer func() { _ = r.Close() }()

	var out []string
	for _, entry := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return nil, model.NewSecurityError("archive entry %q escapes the extraction directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, &model.StorageError{Op: "archive expansion", Cause: err}
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, &model.StorageError{Op: "archive expansion", Cause: err}
		}
		if err := copyZipEntry(entry, target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

func copyZipEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return &model.StorageError{Op: "archive expansion", Cause: err}
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(target)
	if err != nil {
		return &model.StorageError{Op: "archive expansion", Cause: err}
	}
	defer func() { _ = dst.Close() }()
	if _, err := io.Copy(dst, src); err != nil {
		return &model.StorageError{Op: "archive expansion", Cause: err}
	}
	return nil
}

// relativeTo rewrites an absolute path below root into its root-relative
// form. Paths already relative are cleaned and checked for traversal.
func relativeTo(root string, path string) (string, error) {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(root, path)
		if err != nil {
			return "", model.NewSecurityError("path %q is outside the task root", path)
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", model.NewSecurityError("path %q escapes the task root", path)
	}
	return rel, nil
}
