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

// Package commands holds the workflow commands triggered by Cloud Storage
// notifications. Each command follows the chain contract: read the input
// parameter, do one thing, put the result on the output parameter.
package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/cor"
)

// UploadNotificationDecode parses the JSON body of a Cloud Storage Pub/Sub
// notification into the small object reference downstream commands use.
type UploadNotificationDecode struct {
	cor.BaseCommand
}

// NewUploadNotificationDecode creates the notification-decoding stage.
//
// Inputs:
//   - name: the name of the command.
//
// Outputs:
//   - A pointer to the decode command.
func NewUploadNotificationDecode(name string) *UploadNotificationDecode {
	return &UploadNotificationDecode{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *UploadNotificationDecode) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("expected a notification payload string"))
		return
	}

	var note cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &note); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to unmarshal storage notification: %w", err))
		return
	}
	if note.Bucket == "" || note.Name == "" {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("storage notification is missing the bucket or object name"))
		return
	}

	// The payload carries the object size as a decimal string.
	size, _ := strconv.ParseInt(note.Size, 10, 64)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	obj := &cloud.GCSObject{
		Bucket:    note.Bucket,
		Name:      note.Name,
		MIMEType:  note.ContentType,
		SizeBytes: size,
	}
	context.Add(cloud.GetGCSObjectName(), obj)
	context.Add(c.GetOutputParam(), obj)
}
