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
	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// PersistCommand writes the data row and its frame rows. The data row
// records the effective values (recomputed stop frame, resolved chunk size,
// recorded sorting method) rather than the raw request.
type PersistCommand struct {
	cor.BaseCommand
}

// NewPersistCommand creates the row-persistence stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the persist command.
func NewPersistCommand(name string) *PersistCommand {
	return &PersistCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *PersistCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && len(request.selected) > 0
}

func (c *PersistCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	data := c.buildDataRow(request)
	dataID, err := request.Store.CreateData(ctx, data)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}
	data.ID = dataID
	request.data = data
	request.Task.DataID = dataID

	if request.kind == media.KindVideo {
		err = c.persistVideo(context, request, data)
	} else {
		err = c.persistImages(context, request, data)
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}

func (c *PersistCommand) buildDataRow(request *Request) *model.Data {
	params := request.DataParams

	storage := params.Storage
	if storage == "" {
		storage = model.StorageLocal
	}
	method := params.StorageMethod
	if params.UseCache {
		method = model.StorageMethodCache
	}
	if method == "" {
		method = model.StorageMethodFileSystem
	}
	chunkType := model.ChunkImageset
	if request.kind == media.KindVideo && !params.UseZipChunks {
		chunkType = model.ChunkVideo
	}

	// The stop frame is recomputed from what was actually kept, so a stop
	// request past the media or one that falls between steps never leaks
	// into the row.
	return &model.Data{
		Size:          len(request.selected),
		StartFrame:    request.selected[0],
		StopFrame:     request.selected[len(request.selected)-1],
		FrameFilter:   params.FrameFilter,
		ChunkSize:     request.chunkSize,
		ImageQuality:  params.ImageQuality,
		Storage:       storage,
		StorageMethod: method,
		ChunkType:     chunkType,
		SortingMethod: request.recordedSort(),
	}
}

func (c *PersistCommand) persistVideo(context cor.Context, request *Request, data *model.Data) error {
	w, h, err := request.extractor.Dimensions(0)
	if err != nil {
		return err
	}
	return request.Store.InsertVideo(context.GetContext(), &model.Video{
		DataID: data.ID,
		Path:   request.extractor.SourcePaths()[0],
		Width:  w,
		Height: h,
	})
}

// persistImages inserts the frame rows with contiguous ordinals, then the
// companion rows keyed by their primary's fresh id.
func (c *PersistCommand) persistImages(context cor.Context, request *Request, data *model.Data) error {
	ctx := context.GetContext()
	rel := request.extractor.SourcePaths()

	images := make([]*model.Image, len(request.selected))
	for frame, ordinal := range request.selected {
		dim, err := c.frameDim(request, frame, ordinal)
		if err != nil {
			return err
		}
		images[frame] = &model.Image{
			DataID: data.ID,
			Path:   rel[ordinal],
			Frame:  frame,
			Width:  dim.Width,
			Height: dim.Height,
		}
	}
	if err := request.Store.InsertImages(ctx, images); err != nil {
		return err
	}
	request.images = images

	if len(request.related) == 0 {
		return nil
	}
	var companions []*model.RelatedFile
	for frame, ordinal := range request.selected {
		for _, companion := range request.extractor.Related(ordinal) {
			companions = append(companions, &model.RelatedFile{
				DataID:       data.ID,
				PrimaryImage: images[frame].ID,
				Path:         companion,
			})
		}
	}
	if len(companions) == 0 {
		return nil
	}
	return request.Store.InsertRelatedFiles(ctx, companions)
}

// frameDim prefers the dimensions measured during chunk writing and falls
// back to an extractor query when no artifact pass ran for this frame.
func (c *PersistCommand) frameDim(request *Request, frame int, ordinal int) (media.Dim, error) {
	if frame < len(request.frameDims) {
		return request.frameDims[frame], nil
	}
	w, h, err := request.extractor.Dimensions(ordinal)
	if err != nil {
		return media.Dim{}, err
	}
	return media.Dim{Width: w, Height: h}, nil
}
