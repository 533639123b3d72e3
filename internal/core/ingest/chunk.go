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

package ingest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ChunkCommand applies the frame filter, fixes the chunk size and, for
// eagerly stored tasks, writes the original and compressed chunk artifacts
// through a bounded worker pool. Cached tasks skip artifact writing entirely
// and serve chunks on demand from the manifest later.
type ChunkCommand struct {
	cor.BaseCommand
}

// NewChunkCommand creates the chunk-materialization stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the chunk command.
func NewChunkCommand(name string) *ChunkCommand {
	return &ChunkCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

// chunkJob is one unit of pool work: a frame batch and the writers to run
// it through.
type chunkJob struct {
	index  int
	frames []media.Frame
}

// chunkResult carries the measured frame dimensions of one original chunk
// back to the collector, keyed by chunk index so order survives the pool.
type chunkResult struct {
	index int
	dims  []media.Dim
	err   error
}

func (c *ChunkCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && request.extractor != nil
}

func (c *ChunkCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	if err := c.selectFrames(request); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}
	if err := c.fixChunkSize(request); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	cached := request.DataParams.StorageMethod == model.StorageMethodCache || request.DataParams.UseCache
	if cached {
		// Lazy storage: the manifest carries everything a chunk server
		// needs, only the per-frame dimensions are captured here.
		if err := c.measureFrames(request); err != nil {
			c.GetErrorCounter().Add(ctx, 1)
			context.AddError(c.GetName(), err)
			return
		}
	} else if err := c.writeChunks(context, request); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}

// selectFrames applies start, stop and the step filter to the extracted
// frame set and records the kept ordinals.
func (c *ChunkCommand) selectFrames(request *Request) error {
	total := request.extractor.Len()
	if total == 0 {
		return model.NewValidationError("no frames to ingest")
	}

	start := request.DataParams.StartFrame
	if start < 0 || start >= total {
		return model.NewValidationError("start frame %d lies outside the %d extracted frames", start, total)
	}
	stop := total - 1
	if request.DataParams.StopFrame != nil {
		stop = *request.DataParams.StopFrame
		if stop < start {
			return model.NewValidationError("stop frame %d precedes start frame %d", stop, start)
		}
		if stop > total-1 {
			stop = total - 1
		}
	}
	step := frameStep(request.DataParams.FrameFilter)

	request.selected = request.selected[:0]
	for i := start; i <= stop; i += step {
		request.selected = append(request.selected, i)
	}
	return nil
}

// fixChunkSize resolves the configured or automatic chunk size from the
// first kept frame's dimensions.
func (c *ChunkCommand) fixChunkSize(request *Request) error {
	if request.DataParams.ChunkSize != nil {
		if *request.DataParams.ChunkSize < 1 {
			return model.NewValidationError("chunk size must be positive, got %d", *request.DataParams.ChunkSize)
		}
		request.chunkSize = *request.DataParams.ChunkSize
		return nil
	}
	w, h, err := request.extractor.Dimensions(request.selected[0])
	if err != nil {
		return err
	}
	request.chunkSize = media.AutoChunkSize(w, h)
	return nil
}

// measureFrames captures per-frame dimensions without writing artifacts.
func (c *ChunkCommand) measureFrames(request *Request) error {
	request.frameDims = make([]media.Dim, len(request.selected))
	for i, ordinal := range request.selected {
		w, h, err := request.extractor.Dimensions(ordinal)
		if err != nil {
			return err
		}
		request.frameDims[i] = media.Dim{Width: w, Height: h}
	}
	return nil
}

// writeChunks materializes the original and compressed artifacts. Sequence
// tasks without zip chunks keep the container itself as the single original
// chunk; every other shape goes through the dual imageset writers on a
// worker pool.
func (c *ChunkCommand) writeChunks(context cor.Context, request *Request) error {
	for _, dir := range []string{request.OriginalDir(), request.CompressedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &model.StorageError{Op: "create chunk directory", Cause: err}
		}
	}

	if request.kind == media.KindVideo && !request.DataParams.UseZipChunks {
		return c.writeVideoChunk(request)
	}

	batches := c.frameBatches(request)
	workers := request.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	jobs := make(chan chunkJob, len(batches))
	results := make(chan chunkResult, len(batches))
	var wg sync.WaitGroup

	quality := request.DataParams.ImageQuality
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- c.writeBatch(request, job, quality)
			}
		}()
	}
	for i, frames := range batches {
		jobs <- chunkJob{index: i, frames: frames}
	}
	close(jobs)
	wg.Wait()
	close(results)

	dimsByChunk := make([][]media.Dim, len(batches))
	done := 0
	for result := range results {
		if result.err != nil {
			return result.err
		}
		dimsByChunk[result.index] = result.dims
		done++
		context.Publish(cor.ProgressEvent{
			Stage:    c.GetName(),
			Message:  fmt.Sprintf("chunk %d written", result.index),
			Fraction: float64(done) / float64(len(batches)),
		})
	}

	request.frameDims = request.frameDims[:0]
	for _, dims := range dimsByChunk {
		request.frameDims = append(request.frameDims, dims...)
	}
	return nil
}

func (c *ChunkCommand) writeVideoChunk(request *Request) error {
	containerPath, err := request.extractor.Path(0)
	if err != nil {
		return err
	}
	writer := &media.VideoChunkWriter{}
	dest := filepath.Join(request.OriginalDir(), media.ChunkName(0, model.ChunkVideo))
	frames := []media.Frame{{Path: containerPath, Name: path.Base(containerPath)}}
	dims, err := writer.WriteChunk(frames, dest)
	if err != nil {
		return err
	}
	request.frameDims = dims
	return nil
}

// writeBatch runs one frame batch through both writers. The original
// writer's measured dimensions are the ones trusted for persistence.
func (c *ChunkCommand) writeBatch(request *Request, job chunkJob, quality int) chunkResult {
	original := &media.OriginalChunkWriter{}
	dest := filepath.Join(request.OriginalDir(), media.ChunkName(job.index, model.ChunkImageset))
	dims, err := original.WriteChunk(job.frames, dest)
	if err != nil {
		return chunkResult{index: job.index, err: err}
	}

	compressed := &media.CompressedChunkWriter{Quality: quality}
	dest = filepath.Join(request.CompressedDir(), media.ChunkName(job.index, model.ChunkImageset))
	if _, err := compressed.WriteChunk(job.frames, dest); err != nil {
		return chunkResult{index: job.index, err: err}
	}
	return chunkResult{index: job.index, dims: dims}
}

// frameBatches slices the kept frames into chunk-sized batches.
func (c *ChunkCommand) frameBatches(request *Request) [][]media.Frame {
	var batches [][]media.Frame
	var current []media.Frame
	for _, ordinal := range request.selected {
		abs, err := request.extractor.Path(ordinal)
		if err != nil {
			// Path lookups only fail for out-of-range ordinals, which
			// selectFrames has already excluded.
			continue
		}
		rel := request.extractor.SourcePaths()[ordinal]
		current = append(current, media.Frame{Path: abs, Name: rel})
		if len(current) == request.chunkSize {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// frameStep parses "step=N" out of the frame filter, defaulting to 1.
func frameStep(filter string) int {
	if strings.HasPrefix(filter, "step=") {
		if v, err := strconv.Atoi(strings.TrimPrefix(filter, "step=")); err == nil && v > 0 {
			return v
		}
	}
	return 1
}
