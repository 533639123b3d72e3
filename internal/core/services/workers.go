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

// Package services exposes the task, project and backup operations the HTTP
// layer calls into. Long-running work (ingestion, export, import) runs on a
// shared fixed-size worker pool; callers get an idempotent handle to poll
// instead of blocking.
package services

import "sync"

// Pool is a fixed-size worker pool. One worker carries one submitted unit
// of work end to end; there is no intra-request parallelism at this level.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewPool starts size workers.
//
// Inputs:
//   - size: the number of workers; values below one are raised to one.
//
// Outputs:
//   - A pointer to the running pool.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{jobs: make(chan func(), size*4)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit queues one unit of work. Blocks when the backlog is full, which
// applies natural backpressure to the HTTP layer.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Close drains the backlog and stops the workers.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
