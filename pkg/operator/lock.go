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

package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
)

// LockManager takes, refreshes and drops processing locks on resources.
// Writes are conditional on the resource version the decision was made on,
// so two workers never both win the same lock.
type LockManager struct {
	client  apiserver.Client
	owner   string
	timeout time.Duration
	now     func() time.Time
}

func NewLockManager(client apiserver.Client, owner string, timeout time.Duration) *LockManager {
	return &LockManager{client: client, owner: owner, timeout: timeout, now: time.Now}
}

func (m *LockManager) Owner() string {
	return m.owner
}

// Acquire locks res as observed. It fails with a Conflict when an active
// lease is recorded or when res changed since it was observed.
func (m *LockManager) Acquire(ctx context.Context, res *apiserver.ManagedResource) (*apiserver.ManagedResource, error) {
	now := m.now()
	details := res.Details()
	if lease := LeaseOf(res); lease.Active(now, m.timeout) {
		return nil, apierrors.NewConflict(details.GroupResource(), details.ResourceID,
			fmt.Errorf("processing lock held by %s since %s", lease.Owner, lease.StartedAt.Format(time.RFC3339)))
	}
	return m.write(ctx, details, res.ResourceVersion, Lease{Owner: m.owner, StartedAt: now})
}

// Retain refreshes the lock timestamp on the latest version of the resource.
// It fails with a Conflict when another owner took the lock over meanwhile.
func (m *LockManager) Retain(ctx context.Context, details apiserver.ResourceDetails) (*apiserver.ManagedResource, error) {
	current, err := m.client.GetResource(ctx, details)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if lease := LeaseOf(current); lease.Active(now, m.timeout) && lease.Owner != m.owner {
		return nil, apierrors.NewConflict(details.GroupResource(), details.ResourceID,
			fmt.Errorf("processing lock taken over by %s", lease.Owner))
	}
	return m.write(ctx, details, current.ResourceVersion, Lease{Owner: m.owner, StartedAt: now})
}

// Release clears the lock. A resource deleted meanwhile needs no release.
func (m *LockManager) Release(ctx context.Context, details apiserver.ResourceDetails) error {
	_, err := m.client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Annotations:     Lease{}.Annotations(),
	})
	if apierrors.IsNotFound(err) {
		logr.FromContextOrDiscard(ctx).V(5).Info("resource gone before lock release", "resource", details.String())
		return nil
	}
	return err
}

func (m *LockManager) write(ctx context.Context, details apiserver.ResourceDetails, resourceVersion string, lease Lease) (*apiserver.ManagedResource, error) {
	return m.client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		ResourceVersion: resourceVersion,
		Annotations:     lease.Annotations(),
	})
}
