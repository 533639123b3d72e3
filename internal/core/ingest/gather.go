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
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
)

// GatherCommand resolves the request's source declarations (client uploads,
// share paths, remote urls or cloud-storage objects) into a flat list of
// absolute file paths under the task root, downloading and copying where
// the source requires it.
type GatherCommand struct {
	cor.BaseCommand
}

// NewGatherCommand creates the source-gathering stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the gather command.
func NewGatherCommand(name string) *GatherCommand {
	return &GatherCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *GatherCommand) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(c.GetInputParam()).(*Request)
	return ok
}

func (c *GatherCommand) Execute(context cor.Context) {
	request := context.Get(c.GetInputParam()).(*Request)
	ctx := context.GetContext()

	if err := os.MkdirAll(request.RawDir(), 0o755); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("create upload directory: %w", err))
		return
	}

	var files []string
	var err error
	switch {
	case len(request.DataParams.ClientFiles) > 0:
		files, err = c.gatherClientFiles(request)
	case len(request.DataParams.RemoteURLs) > 0:
		files, err = c.gatherRemote(context, request)
	case request.DataParams.Storage == model.StorageCloudStorage:
		files, err = c.gatherCloud(context, request)
	case len(request.DataParams.ServerFiles) > 0:
		files, err = c.gatherShare(request)
	default:
		err = model.NewValidationError("no media sources in request")
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	request.files = files
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), request)
	context.Add(GetRequestName(), request)
}

// gatherClientFiles verifies that every declared upload actually landed in
// the raw directory. The upload transport is out of band; by the time the
// pipeline runs the bytes must already be there.
func (c *GatherCommand) gatherClientFiles(request *Request) ([]string, error) {
	files := make([]string, 0, len(request.DataParams.ClientFiles))
	for _, name := range request.DataParams.ClientFiles {
		abs := filepath.Join(request.RawDir(), filepath.FromSlash(name))
		if _, err := os.Stat(abs); err != nil {
			return nil, model.NewValidationError("declared upload %q was never received", name)
		}
		files = append(files, abs)
	}
	return files, nil
}

// gatherShare resolves share-relative paths against the read-only share
// root. Directory entries swallow any listed files beneath them so a file is
// never gathered twice. With CopyData set the selection is copied under the
// task root; otherwise the share files are referenced in place.
func (c *GatherCommand) gatherShare(request *Request) ([]string, error) {
	if request.ShareRoot == "" {
		return nil, model.NewValidationError("share storage requested but no share root is configured")
	}
	pruned := pruneNestedPaths(request.DataParams.ServerFiles)

	var files []string
	for _, rel := range pruned {
		abs, err := resolveShare(request.ShareRoot, rel)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, model.NewValidationError("share path %q does not exist", rel)
		}
		if request.DataParams.CopyData {
			copied, err := copyIntoRaw(abs, rel, info.IsDir(), request.RawDir())
			if err != nil {
				return nil, err
			}
			files = append(files, copied...)
			continue
		}
		files = append(files, abs)
	}
	return files, nil
}

func (c *GatherCommand) gatherRemote(context cor.Context, request *Request) ([]string, error) {
	if request.Downloader == nil {
		return nil, model.NewValidationError("remote urls requested but no downloader is configured")
	}
	files := make([]string, 0, len(request.DataParams.RemoteURLs))
	for i, raw := range request.DataParams.RemoteURLs {
		local, err := request.Downloader.Download(context.GetContext(), raw, request.RawDir())
		if err != nil {
			return nil, err
		}
		files = append(files, local)
		context.Publish(cor.ProgressEvent{
			Stage:    c.GetName(),
			Message:  fmt.Sprintf("downloaded %s", path.Base(local)),
			Fraction: float64(i+1) / float64(len(request.DataParams.RemoteURLs)),
		})
	}
	return files, nil
}

// gatherCloud materializes the requested bucket objects locally. The object
// set is either the explicit ServerFiles list or every object under the
// configured prefix, optionally narrowed by the filename glob.
func (c *GatherCommand) gatherCloud(context cor.Context, request *Request) ([]string, error) {
	if request.Reader == nil {
		return nil, model.NewValidationError("cloud storage requested but no bucket reader is configured")
	}
	ctx := context.GetContext()

	objects := request.DataParams.ServerFiles
	if len(objects) == 0 {
		listed, err := request.Reader.List(ctx, request.DataParams.CloudStoragePrefix)
		if err != nil {
			return nil, err
		}
		objects = listed
	}
	if pattern := request.DataParams.FilenamePattern; pattern != "" {
		matched := objects[:0]
		for _, obj := range objects {
			ok, err := path.Match(pattern, path.Base(obj))
			if err != nil {
				return nil, model.NewValidationError("bad filename pattern %q: %v", pattern, err)
			}
			if ok {
				matched = append(matched, obj)
			}
		}
		objects = matched
	}
	if len(objects) == 0 {
		return nil, model.NewValidationError("cloud storage selection matched no objects")
	}

	files := make([]string, 0, len(objects))
	for i, obj := range objects {
		local, err := request.Reader.Fetch(ctx, obj, request.RawDir())
		if err != nil {
			return nil, err
		}
		files = append(files, local)
		context.Publish(cor.ProgressEvent{
			Stage:    c.GetName(),
			Message:  fmt.Sprintf("fetched %s", obj),
			Fraction: float64(i+1) / float64(len(objects)),
		})
	}
	return files, nil
}

// pruneNestedPaths drops entries that sit beneath another listed entry, so
// listing a directory together with files inside it gathers the directory
// alone.
func pruneNestedPaths(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, strings.Trim(path.Clean(filepath.ToSlash(p)), "/"))
	}
	sort.Strings(cleaned)

	var kept []string
	for _, p := range cleaned {
		nested := false
		for _, parent := range kept {
			if strings.HasPrefix(p, parent+"/") {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, p)
		}
	}
	return kept
}

// resolveShare joins a share-relative path against the root and rejects any
// traversal escaping it.
func resolveShare(root string, rel string) (string, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", model.NewSecurityError("share path %q escapes the share root", rel)
	}
	return abs, nil
}

// copyIntoRaw copies a share file or directory into the raw directory,
// preserving the share-relative layout.
func copyIntoRaw(abs string, rel string, isDir bool, rawDir string) ([]string, error) {
	if !isDir {
		dest := filepath.Join(rawDir, filepath.FromSlash(rel))
		if err := copyFile(abs, dest); err != nil {
			return nil, err
		}
		return []string{dest}, nil
	}
	var copied []string
	err := filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		sub, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(rawDir, filepath.FromSlash(rel), sub)
		if err := copyFile(p, dest); err != nil {
			return err
		}
		copied = append(copied, dest)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copy share directory %q: %w", rel, err)
	}
	return copied, nil
}

func copyFile(src string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
