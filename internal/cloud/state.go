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

// Shared Google Cloud client state. NewCloudServiceClients runs once at
// startup, builds every external client from the configuration, and bundles
// them into a ServiceClients container that the rest of the service receives
// by injection.
//
// Structs:
//   - ServiceClients: all initialized Google Cloud clients plus the active
//     Pub/Sub listeners.
//
// Functions:
//   - Close: releases every client connection.
//   - NewCloudServiceClients: factory building the container from Config.
package cloud

import (
	"context"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
)

// ServiceClients is the dependency container for every external Google Cloud
// connection the service holds open.
type ServiceClients struct {
	StorageClient   *storage.Client                   // Cloud Storage, for uploads and backup archives.
	PubsubClient    *pubsub.Client                    // Pub/Sub, for upload notifications.
	IAMClient       *credentials.IamCredentialsClient // IAM credentials, for signing GCS URLs.
	PubSubListeners map[string]*PubSubListener        // Active listeners keyed by their logical config name.
}

// Close releases every active client connection. Connections are normally
// tied to the root context; tests and controlled shutdowns call this
// explicitly.
func (c *ServiceClients) Close() {
	_ = c.StorageClient.Close()
	_ = c.PubsubClient.Close()
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
}

// NewCloudServiceClients initializes every Google Cloud client the service
// needs.
//
// Inputs:
//   - ctx: the root context governing client lifecycles.
//   - config: the loaded application configuration.
//
// Outputs:
//   - *ServiceClients: the fully initialized container.
//   - error: non-nil when any client fails to initialize.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	pc, err := pubsub.NewClient(ctx, config.Application.GoogleProjectId)
	if err != nil {
		return nil, err
	}

	ic, err := credentials.NewIamCredentialsClient(ctx)
	if err != nil {
		return nil, err
	}

	// Listeners start without a command attached; the workflows bind their
	// triggers later during setup.
	subscriptions := make(map[string]*PubSubListener)
	for subKey := range config.TopicSubscriptions {
		values := config.TopicSubscriptions[subKey]
		actual, err := NewPubSubListener(pc, values.Name, nil)
		if err != nil {
			return nil, err
		}
		subscriptions[subKey] = actual
	}

	cloud = &ServiceClients{
		StorageClient:   sc,
		PubsubClient:    pc,
		IAMClient:       ic,
		PubSubListeners: subscriptions,
	}

	return cloud, err
}
