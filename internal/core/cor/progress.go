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

package cor

// ProgressEvent is a snapshot of how far a workflow has come. Commands push
// events as they work; status endpoints consume the latest one instead of
// polling the pipeline.
type ProgressEvent struct {
	// Stage names the pipeline step that emitted the event.
	Stage string
	// Message is a human-readable description of what is happening.
	Message string
	// Fraction is overall completion in [0, 1].
	Fraction float64
}
