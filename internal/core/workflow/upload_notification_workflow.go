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

// Package workflow assembles commands into the message-driven pipelines
// attached to Pub/Sub listeners.
package workflow

import (
	"github.com/openlabel/go-annotation-backend/internal/core/commands"
	"github.com/openlabel/go-annotation-backend/internal/core/cor"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// UploadNotificationWorkflow keeps the cloud upload ledger current. It runs
// once per storage notification: decode the message, then upsert the object
// into the ledger. A failed run leaves the message unacknowledged so the
// subscription redelivers it.
type UploadNotificationWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

// Execute runs the underlying command chain.
func (w *UploadNotificationWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// NewUploadNotificationWorkflow builds the ledger workflow.
//
// Inputs:
//   - store: the row store holding the upload ledger.
//
// Outputs:
//   - A pointer to the initialized workflow.
func NewUploadNotificationWorkflow(store *sqlite.Backend) *UploadNotificationWorkflow {
	out := &UploadNotificationWorkflow{BaseCommand: *cor.NewBaseCommand("upload-notification-workflow")}

	chain := cor.NewBaseChain(out.GetName())
	chain.AddCommand(commands.NewUploadNotificationDecode("decode-notification"))
	chain.AddCommand(commands.NewUploadRecord("record-upload", store))
	out.chain = chain

	return out
}
