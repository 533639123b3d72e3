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

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/openlabel/go-annotation-backend/internal/cloud"
	"github.com/openlabel/go-annotation-backend/internal/core/backup"
	"github.com/openlabel/go-annotation-backend/internal/core/services"
	"github.com/openlabel/go-annotation-backend/internal/core/workflow"
	"github.com/openlabel/go-annotation-backend/internal/gateway"
	"github.com/openlabel/go-annotation-backend/internal/store/sqlite"
)

// StateManager holds the shared components for the application.
type StateManager struct {
	config        *cloud.Config
	cloud         *cloud.ServiceClients
	store         *sqlite.Backend
	reader        *cloud.CloudReader
	pool          *services.Pool
	taskService   *services.TaskService
	backupService *services.BackupService
	policy        *gateway.PolicyClient
	limits        *gateway.LimitClient
}

var state = &StateManager{}

func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	err = os.Setenv(cloud.EnvConfigRuntime, "local")
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
			if err := SetupOS(); err != nil {
				log.Fatalf("failed to setup env: %v\n", err)
			}
		}
		// Create a default config and layer the TOML files on top.
		config := cloud.NewConfig()
		cloud.LoadConfig(&config)
		state.config = config
	}
	return state.config
}

// InitState initializes the application state and dependencies. Cloud
// clients are only brought up when a project is configured, so the server
// also runs against purely local storage.
func InitState(ctx context.Context) {
	config := GetConfig()

	var reader *cloud.CloudReader
	if config.Application.GoogleProjectId != "" {
		cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
		if err != nil {
			panic(err)
		}
		state.cloud = cloudClients
		if config.Storage.UploadBucket != "" {
			reader = cloud.NewCloudReader(cloudClients, config.Storage.UploadBucket, config.Application.SignerServiceAccountEmail)
		}
	}
	state.reader = reader

	store, err := sqlite.Open(config.Paths.DatabaseFile)
	if err != nil {
		panic(err)
	}
	state.store = store

	workers := config.Application.ThreadPoolSize
	state.pool = services.NewPool(workers)

	downloader := cloud.NewDownloader(config.Limits)
	state.taskService = services.NewTaskService(
		store,
		config.Paths.DataRoot,
		config.Paths.ShareRoot,
		downloader,
		reader,
		state.pool,
		workers,
	)

	exporter := backup.NewExporter(store, config.Paths.DataRoot, config.Paths.ShareRoot)
	importer := backup.NewImporter(store, config.Paths.DataRoot, workers)
	backupService, err := services.NewBackupService(
		store,
		exporter,
		importer,
		config.Paths.ExportCacheDir,
		time.Duration(config.Cache.TaskTTLSeconds)*time.Second,
		time.Duration(config.Cache.ProjectTTLSeconds)*time.Second,
		state.pool,
	)
	if err != nil {
		panic(err)
	}
	state.backupService = backupService
	if state.cloud != nil && config.Storage.BackupBucket != "" {
		backupService.SetArchiveMirror(cloud.NewCloudWriter(state.cloud, config.Storage.BackupBucket))
	}

	if config.Gateway.PolicyURL != "" {
		state.policy = gateway.NewPolicyClient(config.Gateway.PolicyURL)
	}
	if config.Gateway.LimitURL != "" {
		state.limits = gateway.NewLimitClient(config.Gateway.LimitURL)
	}

	if state.cloud != nil {
		SetupListeners(state.cloud, ctx)
	}
}

// SetupListeners binds the upload-notification workflow to the configured
// Pub/Sub subscriptions and starts them.
func SetupListeners(cloudClients *cloud.ServiceClients, ctx context.Context) {
	uploadNotifier := workflow.NewUploadNotificationWorkflow(state.store)
	for _, listener := range cloudClients.PubSubListeners {
		listener.SetCommand(uploadNotifier)
		listener.Listen(ctx)
	}
}

// TeardownState releases the long-lived resources on shutdown.
func TeardownState() {
	if state.backupService != nil {
		state.backupService.Close()
	}
	if state.pool != nil {
		state.pool.Close()
	}
	if state.store != nil {
		_ = state.store.Close()
	}
	if state.cloud != nil {
		state.cloud.Close()
	}
}
