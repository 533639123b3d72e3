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
// turns them into frame extractors and chunk artifacts. This file implements
// the chunk writers: given an ordered batch of frames they produce one
// artifact on disk and report the per-frame dimensions observed while
// writing, so persistence never decodes anything twice.
package media

import (
	"archive/zip"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// Frame is one entry of a chunk batch. Name is the stable archive-relative
// name; Path is where the payload currently lives.
type Frame struct {
	Path string
	Name string
}

// Dim is a measured frame size.
type Dim struct {
	Width  int
	Height int
}

// ChunkWriter renders an ordered frame batch into a single artifact.
type ChunkWriter interface {
	WriteChunk(frames []Frame, dest string) ([]Dim, error)
}

// OriginalChunkWriter stores frame payloads byte for byte in a zip, quality
// untouched.
type OriginalChunkWriter struct{}

// CompressedChunkWriter re-encodes jpeg-compatible frames at the configured
// quality. Other formats are stored unmodified; their codecs are opaque here.
type CompressedChunkWriter struct {
	Quality int
}

// VideoChunkWriter passes a sequence container through unmodified. Splitting
// or re-encoding the stream is a codec concern this backend does not own.
type VideoChunkWriter struct{}

func (w *OriginalChunkWriter) WriteChunk(frames []Frame, dest string) ([]Dim, error) {
	return writeZipChunk(frames, dest, 0)
}

func (w *CompressedChunkWriter) WriteChunk(frames []Frame, dest string) ([]Dim, error) {
	quality := w.Quality
	if quality <= 0 || quality > 100 {
		quality = 100
	}
	return writeZipChunk(frames, dest, quality)
}

func (w *VideoChunkWriter) WriteChunk(frames []Frame, dest string) ([]Dim, error) {
	if len(frames) == 0 {
		return nil, model.NewValidationError("empty chunk batch")
	}
	src, err := os.Open(frames[0].Path)
	if err != nil {
		return nil, &model.StorageError{Op: "chunk source open", Cause: err}
	}
	defer func() { _ = src.Close() }()
	dst, err := os.Create(dest)
	if err != nil {
		return nil, &model.StorageError{Op: "chunk write", Cause: err}
	}
	defer func() { _ = dst.Close() }()
	if _, err := io.Copy(dst, src); err != nil {
		return nil, &model.StorageError{Op: "chunk write", Cause: err}
	}
	return nil, nil
}

// writeZipChunk writes frames into a zip at dest. A quality of zero keeps the
// payload untouched; any other value re-encodes jpegs at that quality.
func writeZipChunk(frames []Frame, dest string, quality int) ([]Dim, error) {
	out, err := os.Create(dest)
	if err != nil {
		return nil, &model.StorageError{Op: "chunk write", Cause: err}
	}
	defer func() { _ = out.Close() }()

	zw := zip.NewWriter(out)
	dims := make([]Dim, 0, len(frames))
	for i, frame := range frames {
		name := frame.Name
		if name == "" {
			name = fmt.Sprintf("%06d%s", i, filepath.Ext(frame.Path))
		}
		dim, err := addZipFrame(zw, frame.Path, name, quality)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dim)
	}
	if err := zw.Close(); err != nil {
		return nil, &model.StorageError{Op: "chunk write", Cause: err}
	}
	return dims, nil
}

func addZipFrame(zw *zip.Writer, path string, name string, quality int) (Dim, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dim{}, &model.StorageError{Op: "chunk source open", Cause: err}
	}
	defer func() { _ = f.Close() }()

	reencode := quality > 0 && quality < 100 && isJpegName(path)
	if reencode {
		img, _, err := image.Decode(f)
		if err != nil {
			return Dim{}, &model.TransientMediaError{Reason: "undecodable frame " + filepath.Base(path), Cause: err}
		}
		w, err := zw.Create(name)
		if err != nil {
			return Dim{}, &model.StorageError{Op: "chunk write", Cause: err}
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return Dim{}, &model.StorageError{Op: "chunk write", Cause: err}
		}
		b := img.Bounds()
		return Dim{Width: b.Dx(), Height: b.Dy()}, nil
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dim{}, &model.TransientMediaError{Reason: "undecodable frame " + filepath.Base(path), Cause: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Dim{}, &model.StorageError{Op: "chunk source seek", Cause: err}
	}
	w, err := zw.Create(name)
	if err != nil {
		return Dim{}, &model.StorageError{Op: "chunk write", Cause: err}
	}
	if _, err := io.Copy(w, f); err != nil {
		return Dim{}, &model.StorageError{Op: "chunk write", Cause: err}
	}
	return Dim{Width: cfg.Width, Height: cfg.Height}, nil
}

func isJpegName(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

// AutoChunkSize selects the chunk size from the first frame's dimensions.
// The budget is 36 full-HD frames worth of pixels per chunk, clamped to
// [2, 72]. Callers pass zero dimensions to get the sequence default.
func AutoChunkSize(width int, height int) int {
	const defaultSize = 36
	if width <= 0 || height <= 0 {
		return defaultSize
	}
	size := defaultSize * 1920 * 1080 / (width * height)
	if size < 2 {
		return 2
	}
	if size > 72 {
		return 72
	}
	return size
}

// ChunkName returns the artifact file name of chunk n for the given type.
func ChunkName(n int, chunkType model.ChunkType) string {
	if chunkType == model.ChunkVideo {
		return fmt.Sprintf("%d.mp4", n)
	}
	return fmt.Sprintf("%d.zip", n)
}
