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

// ClassifyCommand sorts the gathered files into media-kind buckets, picks
// the single kind that drives extraction and derives the task mode from it.
type ClassifyCommand struct {
	cor.BaseCommand
}

// NewClassifyCommand creates the media-classification stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the classify command.
func NewClassifyCommand(name string) *ClassifyCommand {
	return &ClassifyCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ClassifyCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && len(request.files) > 0
}

func (c *ClassifyCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	buckets, err := media.ClassifyAll(request.files)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	kind := dominantKind(buckets)
	if kind == media.KindUnknown {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), model.NewValidationError("no supported media found among %d files", len(request.files)))
		return
	}

	// An explicit job-file mapping only makes sense for frame sets.
	if request.DataParams.HasCustomSegments() && kind.Mode() != model.ModeAnnotation {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), model.NewValidationError("job file mapping requires frame-set media, got %s", kind))
		return
	}

	// 3D tasks are point-cloud scenes carried as image primaries plus
	// companion files. Sequence media cannot carry companions.
	if request.TaskParams.Dimension == model.Dim3D && kind != media.KindImage && kind != media.KindDirectory && kind != media.KindArchive {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), model.NewValidationError("3d tasks require image media, got %s", kind))
		return
	}

	request.buckets = buckets
	request.kind = kind
	request.Task.Mode = kind.Mode()
	request.Task.Dimension = request.TaskParams.Dimension
	if request.Task.Dimension == "" {
		request.Task.Dimension = model.Dim2D
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}

// dominantKind picks the extraction kind out of the classified buckets.
// Manifests ride along with any kind; otherwise ClassifyAll has already
// rejected mixes, so the first non-empty non-manifest bucket wins.
func dominantKind(buckets map[media.Kind][]string) media.Kind {
	order := []media.Kind{media.KindVideo, media.KindArchive, media.KindPdf, media.KindDirectory, media.KindImage}
	for _, k := range order {
		if len(buckets[k]) > 0 {
			return k
		}
	}
	return media.KindUnknown
}
