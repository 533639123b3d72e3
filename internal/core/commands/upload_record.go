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

package commands

import (
	"log/slog"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/core/media"
	"github.com/openlabel/go-annotation-backend/internal/core/model"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// UploadRecord writes a decoded upload notification into the upload ledger.
// Objects that are not supported media are acknowledged without a row so
// lifecycle markers and junk uploads do not pollute bucket listings.
type UploadRecord struct {
	cor.BaseCommand
	store *sqlite.Backend
}

// NewUploadRecord creates the ledger-writing stage.
//
// Inputs:
//   - name: the name of the command.
//   - store: the row store the ledger lives in.
//
// Outputs:
//   - A pointer to the record command.
func NewUploadRecord(name string, store *sqlite.Backend) *UploadRecord {
	return &UploadRecord{BaseCommand: *cor.NewBaseCommand(name), store: store}
}

func (c *UploadRecord) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(c.GetInputParam()).(*cloud.GCSObject)
	return ok
}

func (c *UploadRecord) Execute(context cor.Context) {
	obj := context.Get(c.GetInputParam()).(*cloud.GCSObject)

	if media.ClassifyName(obj.Name) == media.KindUnknown {
		slog.Debug("ignoring unsupported upload", "bucket", obj.Bucket, "object", obj.Name)
		c.GetSuccessCounter().Add(context.GetContext(), 1)
		context.Add(c.GetOutputParam(), obj)
		return
	}

	upload := &model.CloudUpload{
		Bucket:      obj.Bucket,
		ObjectName:  obj.Name,
		ContentType: obj.MIMEType,
		SizeBytes:   obj.SizeBytes,
	}
	if err := c.store.RecordCloudUpload(context.GetContext(), upload); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	slog.Info("recorded upload", "bucket", obj.Bucket, "object", obj.Name, "bytes", obj.SizeBytes)
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), obj)
}
