// Copyright 2022 The servicefabrik.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apiserver

import (
	"context"

	"k8s.io/apimachinery/pkg/watch"
)

// Client is the resource store the operators are built on.
//
// Errors follow the Kubernetes status errors: a stale resource version is a
// Conflict, a missing resource is NotFound and a duplicate id is AlreadyExists.
type Client interface {
	// RegisterCrds makes the resource type known to the store, it is idempotent.
	RegisterCrds(ctx context.Context, resourceGroup, resourceType string) error
	// Watch streams events of resources selected by query, starting with an
	// ADDED event for every resource already selected.
	// Event objects are *unstructured.Unstructured.
	Watch(ctx context.Context, resourceGroup, resourceType, query string) (watch.Interface, error)
	CreateResource(ctx context.Context, opts CreateOptions) (*ManagedResource, error)
	UpdateResource(ctx context.Context, opts UpdateOptions) (*ManagedResource, error)
	GetResource(ctx context.Context, details ResourceDetails) (*ManagedResource, error)
	ListResources(ctx context.Context, resourceGroup, resourceType, query string) ([]*ManagedResource, error)
	DeleteResource(ctx context.Context, details ResourceDetails) error
}
