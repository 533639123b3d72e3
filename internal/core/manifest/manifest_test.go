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

package manifest

import (
	"path/filepath"
	"testing"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleImageManifest() *ImageManifest {
	return &ImageManifest{Entries: []ImageEntry{
		{Name: "a", Extension: ".jpg", Width: 640, Height: 480},
		{Name: "sub/b", Extension: ".png", Width: 800, Height: 600,
			Meta: &Meta{RelatedImages: []string{"sub/related_images/b_png/cam.png"}}},
	}}
}

func TestImageManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	m := sampleImageManifest()
	require.NoError(t, m.Save(path))

	loaded, err := LoadImageManifest(path)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, m.Entries, loaded.Entries)
	assert.Equal(t, []string{"a.jpg", "sub/b.png"}, loaded.Names())

	// The sidecar indexes exactly the record lines.
	offsets, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Len(t, offsets, 2)
	assert.Greater(t, offsets[1], offsets[0])
}

func TestImageManifestValidateNamesOffender(t *testing.T) {
	m := &ImageManifest{Entries: []ImageEntry{
		{Name: "a", Extension: ".jpg"},
		{Name: "b", Extension: ".jpg"},
	}}
	present := map[string]bool{"a.jpg": true}
	err := m.Validate(func(name string) bool { return present[name] })
	require.Error(t, err)
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "b.jpg", ierr.File)
}

func TestImageManifestSubset(t *testing.T) {
	m := sampleImageManifest()

	sub, err := m.Subset([]string{"sub/b.png"}, "")
	require.NoError(t, err)
	require.Len(t, sub.Entries, 1)
	assert.Equal(t, "sub/b", sub.Entries[0].Name)

	// A prefix is reapplied to every surviving entry.
	sub, err = m.Subset([]string{"bucket-root/a.jpg"}, "bucket-root")
	require.NoError(t, err)
	assert.Equal(t, "bucket-root/a", sub.Entries[0].Name)

	_, err = m.Subset([]string{"missing.jpg"}, "")
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "missing.jpg", ierr.File)
}

func TestVideoManifestRoundTripAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	m := &VideoManifest{
		Properties: VideoProperties{Name: "clip.mp4", Resolution: [2]int{1920, 1080}, Length: 120},
		KeyFrames: []KeyFrame{
			{Number: 0, PTS: 0, Timestamp: 0},
			{Number: 30, PTS: 15360, Timestamp: 1.0},
			{Number: 60, PTS: 30720, Timestamp: 2.0},
		},
	}
	require.NoError(t, m.Validate())
	require.NoError(t, m.Save(path))

	loaded, err := LoadVideoManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.Properties, loaded.Properties)
	assert.Equal(t, m.KeyFrames, loaded.KeyFrames)
}

func TestVideoManifestValidateRejectsBrokenIndexes(t *testing.T) {
	base := VideoProperties{Name: "clip.mp4", Resolution: [2]int{640, 480}, Length: 100}

	empty := &VideoManifest{Properties: base}
	require.Error(t, empty.Validate())

	nonMonotonic := &VideoManifest{Properties: base, KeyFrames: []KeyFrame{
		{Number: 0}, {Number: 10, Timestamp: 1}, {Number: 5, Timestamp: 2},
	}}
	require.Error(t, nonMonotonic.Validate())

	pastEnd := &VideoManifest{Properties: base, KeyFrames: []KeyFrame{{Number: 150}}}
	require.Error(t, pastEnd.Validate())
}

func TestLoadImageManifestRejectsVideoType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	v := &VideoManifest{
		Properties: VideoProperties{Name: "clip.mp4", Length: 10},
		KeyFrames:  []KeyFrame{{Number: 0}},
	}
	require.NoError(t, v.Save(path))

	_, err := LoadImageManifest(path)
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}
