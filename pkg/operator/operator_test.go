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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/apiserver/memory"
)

var workflowDetails = apiserver.ResourceDetails{
	ResourceGroup: apiserver.GroupWorkflow,
	ResourceType:  apiserver.TypeSerialWorkflow,
	ResourceID:    "wf-1",
}

// recordingClient counts lock releases and watch registrations,
// failing the first failWatches watches.
type recordingClient struct {
	apiserver.Client

	mu          sync.Mutex
	releases    int
	watches     int
	failWatches int
}

func (c *recordingClient) UpdateResource(ctx context.Context, opts apiserver.UpdateOptions) (*apiserver.ManagedResource, error) {
	if owner, ok := opts.Annotations[apiserver.AnnotationLockedByManager]; ok && owner == "" {
		c.mu.Lock()
		c.releases++
		c.mu.Unlock()
	}
	return c.Client.UpdateResource(ctx, opts)
}

func (c *recordingClient) Watch(ctx context.Context, resourceGroup, resourceType, query string) (watch.Interface, error) {
	c.mu.Lock()
	c.watches++
	fail := c.watches <= c.failWatches
	c.mu.Unlock()
	if fail {
		return nil, errors.New("store unavailable")
	}
	return c.Client.Watch(ctx, resourceGroup, resourceType, query)
}

func (c *recordingClient) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases, c.watches
}

func createWorkflow(t *testing.T, cli apiserver.Client, annotations map[string]string) *apiserver.ManagedResource {
	t.Helper()
	res, err := cli.CreateResource(context.Background(), apiserver.CreateOptions{
		ResourceDetails: workflowDetails,
		Annotations:     annotations,
		Options:         apiserver.Document{"workflow_name": "upgrade"},
		Status:          &apiserver.ResourceStatus{State: apiserver.StateInQueue},
	})
	require.NoError(t, err)
	return res
}

func testClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestLockManager_Acquire(t *testing.T) {
	ctx := context.Background()
	cli := memory.NewClient()
	res := createWorkflow(t, cli, nil)

	now := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	first := NewLockManager(cli, "broker-0", 5*time.Minute)
	first.now = testClock(now)
	second := NewLockManager(cli, "broker-1", 5*time.Minute)
	second.now = testClock(now.Add(time.Minute))

	locked, err := first.Acquire(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, Lease{Owner: "broker-0", StartedAt: now}, LeaseOf(locked))

	// an active lease blocks other owners and leaves the resource untouched
	_, err = second.Acquire(ctx, locked)
	assert.True(t, apierrors.IsConflict(err), "want Conflict, got %v", err)
	current, err := cli.GetResource(ctx, workflowDetails)
	require.NoError(t, err)
	assert.Equal(t, locked.ResourceVersion, current.ResourceVersion)

	// acting on an outdated observation loses the race
	_, err = second.Acquire(ctx, res)
	assert.True(t, apierrors.IsConflict(err), "want Conflict, got %v", err)

	// a stale lease is taken over
	second.now = testClock(now.Add(5 * time.Minute))
	takenOver, err := second.Acquire(ctx, locked)
	require.NoError(t, err)
	assert.Equal(t, "broker-1", LeaseOf(takenOver).Owner)
}

func TestLockManager_RetainRelease(t *testing.T) {
	ctx := context.Background()
	cli := memory.NewClient()
	res := createWorkflow(t, cli, nil)

	now := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	locks := NewLockManager(cli, "broker-0", 5*time.Minute)
	locks.now = testClock(now)
	_, err := locks.Acquire(ctx, res)
	require.NoError(t, err)

	locks.now = testClock(now.Add(4 * time.Minute))
	retained, err := locks.Retain(ctx, workflowDetails)
	require.NoError(t, err)
	assert.Equal(t, now.Add(4*time.Minute), LeaseOf(retained).StartedAt)

	other := NewLockManager(cli, "broker-1", 5*time.Minute)
	other.now = testClock(now.Add(5 * time.Minute))
	_, err = other.Retain(ctx, workflowDetails)
	assert.True(t, apierrors.IsConflict(err), "want Conflict, got %v", err)

	require.NoError(t, locks.Release(ctx, workflowDetails))
	released, err := cli.GetResource(ctx, workflowDetails)
	require.NoError(t, err)
	assert.False(t, LeaseOf(released).Held())

	require.NoError(t, cli.DeleteResource(ctx, workflowDetails))
	assert.NoError(t, locks.Release(ctx, workflowDetails), "release of a deleted resource is not an error")
}

func TestOperator_HandleResource(t *testing.T) {
	heldByOther := Lease{Owner: "broker-1", StartedAt: time.Now()}.Annotations()

	tests := []struct {
		name         string
		annotations  map[string]string
		handler      Handler
		wantCalled   bool
		wantOutcome  string
		wantReleases int
		wantHeld     bool
	}{
		{
			name: "released",
			handler: func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
				return Released, nil
			},
			wantCalled:   true,
			wantOutcome:  OutcomeProcessed,
			wantReleases: 1,
		},
		{
			name: "retained",
			handler: func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
				return Retained, nil
			},
			wantCalled:  true,
			wantOutcome: OutcomeHeld,
			wantHeld:    true,
		},
		{
			name: "handler error releases",
			handler: func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
				return Retained, errors.New("boom")
			},
			wantCalled:   true,
			wantOutcome:  OutcomeFailed,
			wantReleases: 1,
		},
		{
			name: "handler panic releases",
			handler: func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
				panic("boom")
			},
			wantCalled:   true,
			wantOutcome:  OutcomeFailed,
			wantReleases: 1,
		},
		{
			name:        "locked by another worker",
			annotations: heldByOther,
			handler: func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
				return Released, nil
			},
			wantOutcome: OutcomeConflict,
			wantHeld:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cli := &recordingClient{Client: memory.NewClient()}
			res := createWorkflow(t, cli, tt.annotations)
			op := New(cli, &Options{Identity: "broker-0", LockTimeout: 5 * time.Minute})

			called := false
			outcome := op.HandleResource(ctx, res, func(ctx context.Context, locked *apiserver.ManagedResource) (Result, error) {
				called = true
				assert.Equal(t, "broker-0", LeaseOf(locked).Owner, "handler runs on the locked resource")
				return tt.handler(ctx, locked)
			})

			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantOutcome, outcome)
			releases, _ := cli.counts()
			assert.Equal(t, tt.wantReleases, releases)

			current, err := cli.GetResource(ctx, workflowDetails)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeld, LeaseOf(current).Held())
		})
	}
}

func TestOperator_HandleResourceErrorDelaysRelease(t *testing.T) {
	ctx := context.Background()
	cli := &recordingClient{Client: memory.NewClient()}
	res := createWorkflow(t, cli, nil)
	op := New(cli, &Options{Identity: "broker-0", LockTimeout: 5 * time.Minute, WatchErrorDelay: 100 * time.Millisecond})

	start := time.Now()
	outcome := op.HandleResource(ctx, res, func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
		return Released, apierrors.NewServiceUnavailable("store busy")
	})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	releases, _ := cli.counts()
	assert.Equal(t, 1, releases)
}

func TestOperator_HandleResourceAcquireError(t *testing.T) {
	ctx := context.Background()
	cli := &recordingClient{Client: memory.NewClient()}
	res := createWorkflow(t, cli, nil)
	require.NoError(t, cli.DeleteResource(ctx, workflowDetails))

	op := New(cli, &Options{Identity: "broker-0", LockTimeout: 5 * time.Minute})
	outcome := op.HandleResource(ctx, res, func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
		t.Fatal("handler must not run")
		return Released, nil
	})
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestOperator_HandleResourceInvalidOptions(t *testing.T) {
	cli := &recordingClient{Client: memory.NewClient()}
	res := createWorkflow(t, cli, nil)
	res.Spec.Options = "{"

	op := New(cli, &Options{Identity: "broker-0", LockTimeout: 5 * time.Minute})
	outcome := op.HandleResource(context.Background(), res, func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
		t.Fatal("handler must not run")
		return Released, nil
	})
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestOperator_RegisterWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := &recordingClient{Client: memory.NewClient(), failWatches: 1}
	op := New(cli, &Options{
		Identity:        "broker-0",
		LockTimeout:     5 * time.Minute,
		WatchErrorDelay: 10 * time.Millisecond,
		Concurrency:     2,
	})

	handled := make(chan string, 10)
	handler := func(ctx context.Context, res *apiserver.ManagedResource) (Result, error) {
		_, err := cli.UpdateResource(ctx, apiserver.UpdateOptions{
			ResourceDetails: res.Details(),
			Status:          &apiserver.ResourceStatus{State: apiserver.StateInProgress},
		})
		handled <- res.Name
		return Released, err
	}

	done := make(chan error, 1)
	go func() {
		done <- op.RegisterWatcher(ctx, apiserver.GroupWorkflow, apiserver.TypeSerialWorkflow,
			[]string{apiserver.StateInQueue}, handler, 50*time.Millisecond)
	}()

	createWorkflow(t, cli, nil)
	select {
	case name := <-handled:
		assert.Equal(t, "wf-1", name)
	case <-time.After(2 * time.Second):
		t.Fatal("resource not dispatched")
	}

	// refreshes keep re-registering the watch
	assert.Eventually(t, func() bool {
		_, watches := cli.counts()
		return watches >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	select {
	case name := <-handled:
		t.Fatalf("%s handled twice", name)
	default:
	}
}
