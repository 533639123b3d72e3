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
	"context"
	"errors"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
)

// NewPipeline assembles the ingestion chain. The same chain serves task
// creation and backup restore; a restore request differs only in the
// Request flags it carries.
func NewPipeline() cor.Chain {
	out := cor.NewBaseChain("task-ingestion")
	out.AddCommand(NewGatherCommand("gather-sources"))
	out.AddCommand(NewClassifyCommand("classify-media"))
	out.AddCommand(NewExtractCommand("build-extractor"))
	out.AddCommand(NewManifestCommand("resolve-manifest"))
	out.AddCommand(NewChunkCommand("write-chunks"))
	out.AddCommand(NewPersistCommand("persist-rows"))
	out.AddCommand(NewFinalizeCommand("finalize-task"))
	return out
}

// Run executes the pipeline synchronously for the given request. Progress
// events flow into sink when one is supplied; the sink is never closed here.
// The first command failure is returned as the run's error.
func Run(ctx context.Context, request *Request, sink chan<- cor.ProgressEvent) error {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	if sink != nil {
		chainCtx.SetProgressSink(sink)
	}
	chainCtx.Add(cor.CtxIn, request)
	defer chainCtx.Close()

	NewPipeline().Execute(chainCtx)

	if chainCtx.HasErrors() {
		errs := make([]error, 0, len(chainCtx.GetErrors()))
		for _, err := range chainCtx.GetErrors() {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return nil
}
