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

package backup

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// ExportCache memoizes the last-built archive per entity. An archive is
// fresh as long as its file time is not older than the entity's updated
// timestamp, so a re-request for an unmodified entity returns the same file
// without re-running the exporter. Finished archives are deleted after a
// TTL through a deferred timer; serving a cached archive re-arms it.
type ExportCache struct {
	dir string
	ttl time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewExportCache creates the cache over the given directory.
//
// Inputs:
//   - dir: the archive directory, created if absent.
//   - ttl: how long a finished archive outlives its last request.
//
// Outputs:
//   - A pointer to the cache and an error if the directory cannot be made.
func NewExportCache(dir string, ttl time.Duration) (*ExportCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &model.StorageError{Op: "create export cache", Cause: err}
	}
	return &ExportCache{dir: dir, ttl: ttl, timers: make(map[string]*time.Timer)}, nil
}

// Get returns the cached archive path for key when one exists and is not
// older than updated.
func (c *ExportCache) Get(key string, updated time.Time) (string, bool) {
	path := filepath.Join(c.dir, key)
	info, err := os.Stat(path)
	if err != nil || info.ModTime().Before(updated) {
		return "", false
	}
	c.scheduleDeletion(key, path)
	return path, true
}

// Put builds a fresh archive through write. The bytes land in a temp file
// first and are renamed into place only on success, so a reader can never
// observe a partial archive under the final name.
func (c *ExportCache) Put(key string, write func(w io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return "", &model.StorageError{Op: "export cache write", Cause: err}
	}
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &model.StorageError{Op: "export cache write", Cause: err}
	}

	path := filepath.Join(c.dir, key)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &model.StorageError{Op: "export cache rename", Cause: err}
	}
	c.scheduleDeletion(key, path)
	return path, nil
}

func (c *ExportCache) scheduleDeletion(key string, path string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
	}
	c.timers[key] = time.AfterFunc(c.ttl, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to expire cached archive", "path", path, "error", err)
		}
		c.mu.Lock()
		delete(c.timers, key)
		c.mu.Unlock()
	})
}

// Close stops every pending deletion timer. Cached files stay on disk for
// the next process.
func (c *ExportCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
}
