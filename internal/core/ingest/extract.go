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
	"os"
	"path/filepath"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ExtractCommand turns the classified media bucket into a frame extractor,
// splits off 3D companion files and imposes any externally dictated frame
// order (a restore replay or an explicit job-file mapping).
type ExtractCommand struct {
	cor.BaseCommand
}

// NewExtractCommand creates the extractor-build stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the extract command.
func NewExtractCommand(name string) *ExtractCommand {
	return &ExtractCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ExtractCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && request.kind != media.KindUnknown
}

func (c *ExtractCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	builder := &media.Builder{
		Root:          request.mediaRoot(),
		SortingMethod: request.effectiveSort(),
		Seed:          request.Seed,
		RenderPages:   request.RenderPages,
		ProbeVideo:    request.ProbeVideo,
	}

	kind, files, err := c.buildInput(request)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	extractor, err := builder.Build(kind, files)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	if request.Task.Dimension == model.Dim3D {
		primary, related := media.DetectRelated(extractor.SourcePaths())
		if err := extractor.Reconcile(primary, media.ReconcileOpts{Related: related}); err != nil {
			c.GetErrorCounter().Add(ctx, 1)
			context.AddError(c.GetName(), err)
			return
		}
		request.related = related
	}

	order := request.OrderOverride
	if len(order) == 0 && request.DataParams.HasCustomSegments() {
		for _, jobFiles := range request.DataParams.JobFileMapping {
			order = append(order, jobFiles...)
		}
	}
	if len(order) > 0 {
		if err := extractor.Reconcile(order, media.ReconcileOpts{Related: request.related}); err != nil {
			c.GetErrorCounter().Add(ctx, 1)
			context.AddError(c.GetName(), err)
			return
		}
	}

	request.extractor = extractor
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}

// buildInput resolves the bucket handed to the builder. Loose images ride
// along with directory uploads, so the mixed case is flattened into one
// image list before construction.
func (c *ExtractCommand) buildInput(request *Request) (media.Kind, []string, error) {
	kind := request.kind
	files := request.buckets[kind]
	if kind != media.KindDirectory {
		return kind, files, nil
	}

	images := append([]string(nil), request.buckets[media.KindImage]...)
	for _, dir := range files {
		err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && media.Classify(p) == media.KindImage {
				images = append(images, p)
			}
			return nil
		})
		if err != nil {
			return kind, nil, &model.StorageError{Op: "directory walk", Cause: err}
		}
	}
	if len(images) == 0 {
		return kind, nil, model.NewValidationError("uploaded directories contain no images")
	}
	return media.KindImage, images, nil
}

// mediaRoot is the directory frame paths are expressed relative to. Share
// files referenced in place keep their share-relative identity.
func (r *Request) mediaRoot() string {
	if r.DataParams.Storage == model.StorageShare && !r.DataParams.CopyData {
		return r.ShareRoot
	}
	return r.RawDir()
}
