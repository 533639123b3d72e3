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
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/core/segment"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// StatusAnnotation is the task status an ingestion run lands on.
const StatusAnnotation = "annotation"

// JobStatusNew is the status every freshly cut job starts with.
const JobStatusNew = "new"

// JobStageAnnotation is the stage every freshly cut job starts in.
const JobStageAnnotation = "annotation"

// FinalizeCommand partitions the data into segments, cuts one job per
// segment and commits them together with the updated task row under the
// task's write lock. Until this stage commits, the task is invisible to
// annotators.
type FinalizeCommand struct {
	cor.BaseCommand
}

// NewFinalizeCommand creates the segmentation-and-commit stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the finalize command.
func NewFinalizeCommand(name string) *FinalizeCommand {
	return &FinalizeCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *FinalizeCommand) IsExecutable(context cor.Context) bool {
	request, ok := context.Get(c.GetInputParam()).(*Request)
	return ok && request.data != nil
}

func (c *FinalizeCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	ranges, params, err := segment.Compute(
		request.data.Size,
		request.TaskParams.SegmentSize,
		request.TaskParams.Overlap,
		request.Task.Mode,
		request.DataParams.JobFileMapping,
	)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	task := request.Task
	task.SegmentSize = params.Size
	task.Overlap = params.Overlap
	task.Status = StatusAnnotation

	err = request.Store.WithTaskLock(ctx, task.ID, func(q *sqlite.Queries) error {
		for _, r := range ranges {
			seg := &model.Segment{
				TaskID:     task.ID,
				StartFrame: r.StartFrame,
				StopFrame:  r.StopFrame,
				Type:       model.SegmentRange,
			}
			if len(r.Files) > 0 {
				seg.Type = model.SegmentSpecificFiles
				seg.Files = r.Files
			}
			segID, err := q.CreateSegment(ctx, seg)
			if err != nil {
				return err
			}
			job := &model.Job{SegmentID: segID, Status: JobStatusNew, Stage: JobStageAnnotation}
			if _, err := q.CreateJob(ctx, job); err != nil {
				return err
			}
		}
		return q.UpdateTaskAfterIngest(ctx, task)
	})
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
}
