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

package segment

import (
	"testing"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestComputeWithOverlap(t *testing.T) {
	segments, params, err := Compute(10, 4, intPtr(1), model.ModeAnnotation, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, params.Size)
	assert.Equal(t, 1, params.Overlap)
	require.Len(t, segments, 3)
	assert.Equal(t, Range{StartFrame: 0, StopFrame: 3}, segments[0])
	assert.Equal(t, Range{StartFrame: 3, StopFrame: 6}, segments[1])
	assert.Equal(t, Range{StartFrame: 6, StopFrame: 9}, segments[2])
}

func TestComputeSingleSegment(t *testing.T) {
	// A zero segment size collapses the task into a single segment.
	segments, params, err := Compute(25, 0, nil, model.ModeAnnotation, nil)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, Range{StartFrame: 0, StopFrame: 24}, segments[0])
	assert.Equal(t, 25, params.Size)

	// So does a segment size larger than the data.
	segments, _, err = Compute(25, 100, nil, model.ModeAnnotation, nil)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, Range{StartFrame: 0, StopFrame: 24}, segments[0])
}

func TestComputeOverlapClamped(t *testing.T) {
	// An overlap above half the segment size is clamped, not rejected.
	for _, requested := range []int{3, 4, 50} {
		_, params, err := Compute(20, 6, intPtr(requested), model.ModeAnnotation, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, params.Overlap, params.Size/2)
	}
}

func TestComputeInterpolationDefaultOverlap(t *testing.T) {
	_, params, err := Compute(100, 20, nil, model.ModeInterpolation, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterpolationOverlap, params.Overlap)

	// Frame-set tasks default to no overlap at all.
	_, params, err = Compute(100, 20, nil, model.ModeAnnotation, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, params.Overlap)
}

func TestComputeCoversEveryFrame(t *testing.T) {
	cases := []struct {
		dataSize, segmentSize, overlap int
	}{
		{1, 1, 0},
		{7, 3, 1},
		{10, 4, 2},
		{100, 36, 0},
		{99, 10, 5},
	}
	for _, tc := range cases {
		segments, params, err := Compute(tc.dataSize, tc.segmentSize, intPtr(tc.overlap), model.ModeAnnotation, nil)
		require.NoError(t, err)

		seen := make(map[int]bool)
		prevStart := -1
		for _, s := range segments {
			assert.Greater(t, s.StartFrame, prevStart, "segments must be ordered by start frame")
			prevStart = s.StartFrame
			assert.LessOrEqual(t, s.StopFrame-s.StartFrame+1, params.Size)
			for f := s.StartFrame; f <= s.StopFrame; f++ {
				seen[f] = true
			}
		}
		for f := 0; f < tc.dataSize; f++ {
			assert.True(t, seen[f], "frame %d not covered for case %+v", f, tc)
		}
		assert.False(t, seen[tc.dataSize], "segments must not run past the data")
	}
}

func TestComputeExplicitMapping(t *testing.T) {
	mapping := [][]string{
		{"a.jpg", "b.jpg", "c.jpg"},
		{"d.jpg"},
		{"e.jpg", "f.jpg"},
	}
	segments, params, err := Compute(6, 0, nil, model.ModeAnnotation, mapping)
	require.NoError(t, err)

	require.Len(t, segments, 3)
	assert.Equal(t, 0, segments[0].StartFrame)
	assert.Equal(t, 2, segments[0].StopFrame)
	assert.Equal(t, 3, segments[1].StartFrame)
	assert.Equal(t, 3, segments[1].StopFrame)
	assert.Equal(t, 4, segments[2].StartFrame)
	assert.Equal(t, 5, segments[2].StopFrame)
	assert.Equal(t, mapping[0], segments[0].Files)

	// The sliding window never ran, so the written-back params are zero.
	assert.Equal(t, Params{}, params)
}

func TestComputeExplicitMappingRejectsSequenceMode(t *testing.T) {
	_, _, err := Compute(2, 0, nil, model.ModeInterpolation, [][]string{{"a.jpg", "b.jpg"}})
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFromJobs(t *testing.T) {
	params := FromJobs([]Range{
		{StartFrame: 0, StopFrame: 3},
		{StartFrame: 3, StopFrame: 6},
		{StartFrame: 6, StopFrame: 9},
	})
	assert.Equal(t, Params{Size: 4, Overlap: 1}, params)

	params = FromJobs([]Range{{StartFrame: 0, StopFrame: 9}})
	assert.Equal(t, Params{Size: 10}, params)
}
