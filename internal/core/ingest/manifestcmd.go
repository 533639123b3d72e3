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
	"log/slog"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/manifest"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ManifestCommand resolves the task's frame manifest. An uploaded manifest
// is validated against the extracted frame set and, under predefined
// ordering, dictates the frame order. Without one the command builds a fresh
// manifest from the extractor. Sequence media goes through the key-frame
// prober, with one retry before the fast seek path is abandoned.
type ManifestCommand struct {
	cor.BaseCommand
}

// NewManifestCommand creates the manifest-resolution stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the manifest command.
func NewManifestCommand(name string) *ManifestCommand {
	return &ManifestCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ManifestCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && request.extractor != nil
}

func (c *ManifestCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	var err error
	if request.kind == media.KindVideo {
		err = c.resolveVideo(request)
	} else {
		err = c.resolveImages(request)
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}

func (c *ManifestCommand) resolveImages(request *Request) error {
	uploaded := request.buckets[media.KindManifest]
	if len(uploaded) > 0 {
		m, err := manifest.LoadImageManifest(uploaded[0])
		if err != nil {
			return err
		}
		if err := m.Validate(request.extractor.Contains); err != nil {
			return err
		}
		// Under predefined ordering the manifest is the order of record.
		// Extracted files it does not list are dropped with it.
		if request.effectiveSort() == model.SortPredefined && len(request.OrderOverride) == 0 && !request.DataParams.HasCustomSegments() {
			opts := media.ReconcileOpts{Related: request.related}
			if err := request.extractor.Reconcile(m.Names(), opts); err != nil {
				return err
			}
			request.manifest = m
			return m.Save(request.ManifestPath())
		}
	}

	m, err := manifest.BuildImageManifest(request.extractor)
	if err != nil {
		return err
	}
	request.manifest = m
	return m.Save(request.ManifestPath())
}

// resolveVideo probes the container for key frames. A flaky seek index is
// worth one retry; after that a cached task fails (the cache path cannot
// serve frames without a manifest) while an eager task falls back to full
// decoding and carries no manifest at all.
func (c *ManifestCommand) resolveVideo(request *Request) error {
	if request.ProbeKeyFrames == nil {
		return model.NewValidationError("video tasks are not supported without a key frame prober")
	}
	path, err := request.extractor.Path(0)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= 2; attempt++ {
		props, keyFrames, probeErr := request.ProbeKeyFrames(path)
		if probeErr == nil {
			m := &manifest.VideoManifest{Properties: props, KeyFrames: keyFrames}
			if probeErr = m.Validate(); probeErr == nil {
				request.videoManifest = m
				return m.Save(request.ManifestPath())
			}
		}
		err = probeErr
		slog.Warn("video key frame probe failed",
			"path", path,
			"attempt", attempt,
			"error", probeErr)
	}

	if request.DataParams.StorageMethod == model.StorageMethodCache {
		return &model.TransientMediaError{Reason: "cached video task needs a key frame manifest", Cause: err}
	}
	slog.Warn("continuing without a video manifest, chunks will be decoded eagerly", "path", path)
	return nil
}
