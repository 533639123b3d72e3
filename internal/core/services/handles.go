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

package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// HandleStatus is the lifecycle of one background request.
type HandleStatus string

const (
	StatusQueued   HandleStatus = "queued"
	StatusStarted  HandleStatus = "started"
	StatusFinished HandleStatus = "finished"
	StatusFailed   HandleStatus = "failed"
)

// ExportKey builds the idempotent handle key of an export request. The same
// entity always maps to the same key, which is what deduplicates concurrent
// export requests.
func ExportKey(kind string, id int64) string {
	return fmt.Sprintf("export:%s.id%d", kind, id)
}

// ImportKey builds a fresh handle key for an import request. Imports create
// new entities, so every request is its own unit of work.
func ImportKey(kind string) string {
	return fmt.Sprintf("import:%s.%s", kind, uuid.NewString())
}

// Handle is the pollable state of one background request.
type Handle struct {
	Key      string       `json:"key"`
	Status   HandleStatus `json:"status"`
	Result   string       `json:"result,omitempty"` // archive path or created entity id
	Error    string       `json:"error,omitempty"`
	Finished time.Time    `json:"finished,omitempty"`
}

// Registry tracks every live handle. It owns the staleness and retry rules:
// a finished handle older than the entity's last modification is discarded
// so the work reruns, and a failed handle blocks retries until the caller
// clears it.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Begin resolves the handle for key. When no usable handle exists a queued
// one is created and started=true tells the caller to submit the work.
//
// Inputs:
//   - key: the idempotent request key.
//   - updated: the entity's last-modified time; a finished handle older
//     than this is stale and gets discarded.
//
// Outputs:
//   - A snapshot of the governing handle.
//   - Whether the caller now owns starting the work.
//   - An error when a failed handle is still in place.
func (r *Registry) Begin(key string, updated time.Time) (Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		switch h.Status {
		case StatusQueued, StatusStarted:
			return *h, false, nil
		case StatusFailed:
			return *h, false, model.NewValidationError(
				"request %s already failed: %s; clear it before retrying", key, h.Error)
		case StatusFinished:
			if !h.Finished.Before(updated) {
				return *h, false, nil
			}
			// Stale result. Fall through and requeue.
			delete(r.handles, key)
		}
	}
	h := &Handle{Key: key, Status: StatusQueued}
	r.handles[key] = h
	return *h, true, nil
}

// Get returns a snapshot of the handle for key.
func (r *Registry) Get(key string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Clear removes a finished or failed handle. An in-flight handle stays.
func (r *Registry) Clear(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	if !ok || h.Status == StatusQueued || h.Status == StatusStarted {
		return false
	}
	delete(r.handles, key)
	return true
}

// MarkStarted transitions a queued handle to started.
func (r *Registry) MarkStarted(key string) {
	r.setStatus(key, StatusStarted, "", "")
}

// MarkFinished records a successful result.
func (r *Registry) MarkFinished(key string, result string) {
	r.setStatus(key, StatusFinished, result, "")
}

// MarkFailed records a failure. The handle stays until cleared.
func (r *Registry) MarkFailed(key string, err error) {
	r.setStatus(key, StatusFailed, "", err.Error())
}

func (r *Registry) setStatus(key string, status HandleStatus, result string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	if !ok {
		return
	}
	h.Status = status
	h.Result = result
	h.Error = errMsg
	if status == StatusFinished || status == StatusFailed {
		h.Finished = time.Now()
	}
}
