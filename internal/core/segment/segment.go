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

// Package segment computes the partition of a task's frame range into
// segments (and therefore jobs, 1:1). It is a pure function of its inputs:
// the same data size, segment size, overlap and mode always produce the same
// ordered segment list, and segment ids are assigned in emission order by the
// caller.
//
// Two modes exist. The size-based mode slides a window of the effective
// segment size across [0, dataSize-1] with a step reduced by the overlap. The
// explicit mode takes a job-file mapping and emits one segment per file list,
// spanning the cumulative file counts.
package segment

import (
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// DefaultInterpolationOverlap is the overlap applied to sequence tasks when
// the caller did not configure one. Frame-set tasks default to zero.
const DefaultInterpolationOverlap = 5

// Range is one computed segment. Files is nil for size-based segments and
// holds the literal file list for explicit ones.
type Range struct {
	StartFrame int
	StopFrame  int
	Files      []string
}

// Params reports the effective segment size and overlap actually used, so the
// pipeline can write them back onto the task row.
type Params struct {
	Size    int
	Overlap int
}

// Compute partitions dataSize frames into segments.
//
// Inputs:
//   - dataSize: the number of frames after filtering.
//   - segmentSize: the configured segment size; zero or a value larger than
//     dataSize collapses the task into a single segment.
//   - overlap: the configured overlap, nil when the caller left it to the
//     mode default. The value is silently clamped to half the effective
//     segment size, never rejected.
//   - mode: annotation or interpolation; drives the default overlap.
//   - jobFiles: an optional explicit per-job file mapping. When present it
//     takes precedence over size-based segmenting and forces size and
//     overlap to zero. Only frame-set (annotation) tasks may use it.
//
// Outputs:
//   - []Range: the ordered segment list, start frames ascending.
//   - Params: the effective size and overlap.
//   - error: a ValidationError on job-file-mapping misuse.
func Compute(dataSize int, segmentSize int, overlap *int, mode model.TaskMode, jobFiles [][]string) ([]Range, Params, error) {
	if len(jobFiles) > 0 {
		return computeExplicit(mode, jobFiles)
	}

	effectiveSize := segmentSize
	if segmentSize <= 0 || segmentSize > dataSize {
		effectiveSize = dataSize
	}

	effectiveOverlap := 0
	if mode == model.ModeInterpolation {
		effectiveOverlap = DefaultInterpolationOverlap
	}
	if overlap != nil {
		effectiveOverlap = *overlap
	}
	if half := effectiveSize / 2; effectiveOverlap > half {
		effectiveOverlap = half
	}
	if effectiveOverlap < 0 {
		effectiveOverlap = 0
	}

	params := Params{Size: effectiveSize, Overlap: effectiveOverlap}

	// A segment size equal to the whole data set means exactly one segment:
	// the step is treated as unbounded rather than size-overlap.
	if effectiveSize >= dataSize {
		if dataSize <= 0 {
			return []Range{}, params, nil
		}
		return []Range{{StartFrame: 0, StopFrame: dataSize - 1}}, params, nil
	}

	step := effectiveSize - effectiveOverlap
	segments := make([]Range, 0, dataSize/step+1)
	for start := 0; start < dataSize; start += step {
		stop := start + effectiveSize - 1
		if stop > dataSize-1 {
			stop = dataSize - 1
		}
		segments = append(segments, Range{StartFrame: start, StopFrame: stop})
	}
	return segments, params, nil
}

// computeExplicit emits one segment per job-file list. Segment i spans the
// cumulative count of the preceding lists; the effective size and overlap are
// both zero because a sliding window never ran.
func computeExplicit(mode model.TaskMode, jobFiles [][]string) ([]Range, Params, error) {
	if mode != model.ModeAnnotation {
		return nil, Params{}, model.NewValidationError(
			"a job file mapping requires an annotation task, got mode %q", mode)
	}
	segments := make([]Range, 0, len(jobFiles))
	offset := 0
	for i, files := range jobFiles {
		if len(files) == 0 {
			return nil, Params{}, model.NewValidationError("job file mapping entry %d is empty", i)
		}
		segments = append(segments, Range{
			StartFrame: offset,
			StopFrame:  offset + len(files) - 1,
			Files:      append([]string(nil), files...),
		})
		offset += len(files)
	}
	return segments, Params{}, nil
}

// FromJobs derives the (segmentSize, overlap) pair that would reproduce an
// observed job list, used when restoring a backup that carries plain ranges.
// With fewer than two jobs the first job's span is the segment size and the
// overlap is zero.
func FromJobs(ranges []Range) Params {
	if len(ranges) == 0 {
		return Params{}
	}
	first := ranges[0]
	size := first.StopFrame - first.StartFrame + 1
	if len(ranges) == 1 {
		return Params{Size: size}
	}
	second := ranges[1]
	overlap := first.StopFrame - second.StartFrame + 1
	if overlap < 0 {
		overlap = 0
	}
	return Params{Size: size, Overlap: overlap}
}
