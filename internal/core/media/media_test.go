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

package media

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePng drops a decodable image at path so classification and dimension
// queries exercise the real sniffing code.
func writePng(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func TestClassifyByContent(t *testing.T) {
	dir := t.TempDir()

	// The payload decides, not the extension.
	disguised := filepath.Join(dir, "frame.dat")
	writePng(t, disguised, 4, 4)
	assert.Equal(t, KindImage, Classify(disguised))

	assert.Equal(t, KindDirectory, Classify(dir))
	assert.Equal(t, KindManifest, Classify(filepath.Join(dir, "index.jsonl")))
}

func TestClassifyAllRejectsMixedUniqueKinds(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	writePng(t, img, 4, 4)
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not sniffed"), 0o644))

	_, err := ClassifyAll([]string{img, video})
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestClassifyAllRequiresMedia(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "index.jsonl")
	require.NoError(t, os.WriteFile(manifest, []byte("{}"), 0o644))

	_, err := ClassifyAll([]string{manifest})
	require.Error(t, err)
}

func TestSortNatural(t *testing.T) {
	files := []string{"frame_10.png", "frame_2.png", "frame_1.png"}
	out, err := Sort(files, model.SortNatural, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_1.png", "frame_2.png", "frame_10.png"}, out)

	// Lexicographical ordering disagrees on purpose.
	out, err = Sort(files, model.SortLexicographical, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_1.png", "frame_10.png", "frame_2.png"}, out)
}

func TestSortRandomIsSeedStable(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e", "f"}
	first, err := Sort(files, model.SortRandom, 42)
	require.NoError(t, err)
	second, err := Sort(files, model.SortRandom, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, files, first)
}

func TestDetectRelated(t *testing.T) {
	files := []string{
		"scans/0001.pcd",
		"scans/0002.pcd",
		"scans/related_images/0001_pcd/cam0.png",
		"scans/related_images/0001_pcd/cam1.png",
		"scans/related_images/orphan_pcd/cam.png",
	}
	primary, related := DetectRelated(files)
	assert.Equal(t, []string{"scans/0001.pcd", "scans/0002.pcd"}, primary)
	assert.Equal(t, []string{
		"scans/related_images/0001_pcd/cam0.png",
		"scans/related_images/0001_pcd/cam1.png",
	}, related["scans/0001.pcd"])
	assert.NotContains(t, related, "scans/orphan.pcd")
}

func TestReconcileNamesMissingFile(t *testing.T) {
	root := t.TempDir()
	writePng(t, filepath.Join(root, "a.jpg"), 4, 4)

	b := &Builder{Root: root, SortingMethod: model.SortLexicographical}
	ex, err := b.Build(KindImage, []string{filepath.Join(root, "a.jpg")})
	require.NoError(t, err)

	err = ex.Reconcile([]string{"a.jpg", "b.jpg"}, ReconcileOpts{})
	require.Error(t, err)
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "b.jpg", ierr.File)
}

func TestReconcileImposesOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePng(t, filepath.Join(root, name), 4, 4)
	}
	b := &Builder{Root: root, SortingMethod: model.SortLexicographical}
	ex, err := b.Build(KindImage, []string{
		filepath.Join(root, "a.png"),
		filepath.Join(root, "b.png"),
		filepath.Join(root, "c.png"),
	})
	require.NoError(t, err)

	require.NoError(t, ex.Reconcile([]string{"c.png", "a.png"}, ReconcileOpts{}))
	assert.Equal(t, []string{"c.png", "a.png"}, ex.SourcePaths())
	assert.Equal(t, 2, ex.Len())
}

func TestChunkWritersReportDimensions(t *testing.T) {
	root := t.TempDir()
	writePng(t, filepath.Join(root, "a.png"), 8, 6)
	writePng(t, filepath.Join(root, "b.png"), 8, 6)

	frames := []Frame{
		{Path: filepath.Join(root, "a.png"), Name: "a.png"},
		{Path: filepath.Join(root, "b.png"), Name: "b.png"},
	}
	w := &OriginalChunkWriter{}
	dims, err := w.WriteChunk(frames, filepath.Join(root, "0.zip"))
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.Equal(t, Dim{Width: 8, Height: 6}, dims[0])
	assert.FileExists(t, filepath.Join(root, "0.zip"))
}

func TestAutoChunkSize(t *testing.T) {
	// Full HD lands exactly on the budget.
	assert.Equal(t, 36, AutoChunkSize(1920, 1080))
	// Tiny frames clamp high, huge frames clamp low.
	assert.Equal(t, 72, AutoChunkSize(32, 32))
	assert.Equal(t, 2, AutoChunkSize(8000, 8000))
	// Unknown dimensions fall back to the sequence default.
	assert.Equal(t, 36, AutoChunkSize(0, 0))
}
