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

// Package cloud holds the application configuration structs loaded from TOML
// files, the shared Google Cloud client state, and the helpers around Cloud
// Storage and Pub/Sub.
//
// This file centralizes every configurable parameter of the service.
//
// Structs:
//   - Storage: the Cloud Storage buckets media moves through.
//   - Paths: local filesystem roots for data, the share and caches.
//   - Limits: rate limits and timeouts for remote media downloads.
//   - CacheTTL: lifetimes of cached export archives.
//   - Gateway: endpoints of the policy and limit sidecars.
//   - TopicSubscription: one Pub/Sub subscription binding.
//   - Config: the top-level aggregate.
//
// Functions:
//   - NewConfig: constructor that initializes the map fields.
package cloud

// Storage names the Cloud Storage buckets the service reads uploads from and
// writes backup archives to.
type Storage struct {
	UploadBucket string `toml:"upload_bucket"` // Bucket client uploads and remote downloads land in.
	BackupBucket string `toml:"backup_bucket"` // Bucket finished backup archives are mirrored to.
}

// Paths holds the local filesystem layout.
type Paths struct {
	DataRoot       string `toml:"data_root"`        // Root directory for per-task raw data and chunks.
	ShareRoot      string `toml:"share_root"`       // Mounted shared storage tasks may reference in place.
	ExportCacheDir string `toml:"export_cache_dir"` // Directory cached export archives live in.
	DatabaseFile   string `toml:"database_file"`    // Path of the SQLite database file.
}

// Limits bounds outbound traffic when fetching remote media.
type Limits struct {
	DownloadRateLimit     float64 `toml:"download_rate_limit"`     // Sustained remote downloads per second.
	DownloadBurst         int     `toml:"download_burst"`          // Burst allowance on top of the sustained rate.
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"` // Per-request timeout for remote fetches.
}

// CacheTTL holds the lifetimes of cached export archives in seconds. A zero
// value means the archive is kept until invalidated by an update.
type CacheTTL struct {
	TaskTTLSeconds    int `toml:"task_ttl_seconds"`
	ProjectTTLSeconds int `toml:"project_ttl_seconds"`
}

// Gateway points at the sidecar services consulted before mutating
// operations. Empty URLs disable the corresponding check.
type Gateway struct {
	PolicyURL string `toml:"policy_url"` // Base URL of the access-policy service.
	LimitURL  string `toml:"limit_url"`  // Base URL of the usage-limit service.
}

// TopicSubscription binds one Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The Pub/Sub subscription name.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // Dead-letter topic for poisoned messages.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // Ack deadline extension window.
}

// Config is the root configuration container, loaded from layered TOML files.
type Config struct {
	// Application holds general service settings.
	Application struct {
		Name                      string `toml:"name"`                         // Service name, used in telemetry.
		GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
		GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
		ThreadPoolSize            int    `toml:"thread_pool_size"`             // Worker pool size for chunk encoding.
		SignerServiceAccountEmail string `toml:"signer_service_account_email"` // Service account used for signing GCS URLs.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	Paths              Paths                        `toml:"paths"`
	Limits             Limits                       `toml:"limits"`
	Cache              CacheTTL                     `toml:"cache"`
	Gateway            Gateway                      `toml:"gateway"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name (e.g. "UploadTopic").
}

// NewConfig creates an initialized Config. The map fields must exist before
// the TOML loader populates them.
//
// Outputs:
//   - *Config: a pointer to a new Config with its map fields initialized.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
	}
}
