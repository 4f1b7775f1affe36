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
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/utils/retry"
)

// Operator is the common ground of every resource operator: it keeps
// watches alive and dispatches each observed resource to a handler
// under a processing lock.
type Operator struct {
	Client  apiserver.Client
	Locks   *LockManager
	Options *Options
}

func New(client apiserver.Client, options *Options) *Operator {
	return &Operator{
		Client:  client,
		Locks:   NewLockManager(client, options.Identity, options.LockTimeout),
		Options: options,
	}
}

// RegisterCrds registers a resource type, retrying until it succeeds or ctx is done.
func (o *Operator) RegisterCrds(ctx context.Context, resourceGroup, resourceType string) error {
	return retry.OnError(retry.NotContextCancelError, func() error {
		if err := o.Client.RegisterCrds(ctx, resourceGroup, resourceType); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "register crd", "group", resourceGroup, "type", resourceType)
			return err
		}
		return nil
	})
}

// HandleResource locks res, runs handler on it and releases the lock
// unless the handler retained it. Handler errors are logged, never returned,
// and delay the release by WatchErrorDelay.
func (o *Operator) HandleResource(ctx context.Context, res *apiserver.ManagedResource, handler Handler) string {
	details := res.Details()
	log := logr.FromContextOrDiscard(ctx).WithValues("resource", details.String())
	outcome := func(outcome string) string {
		eventsTotal.WithLabelValues(details.ResourceGroup, details.ResourceType, outcome).Inc()
		return outcome
	}

	if _, err := res.Options(); err != nil {
		log.Error(err, "invalid resource options, skipped")
		return outcome(OutcomeSkipped)
	}

	locked, err := o.Locks.Acquire(ctx, res)
	if err != nil {
		if apierrors.IsConflict(err) {
			log.V(5).Info("processing lock not acquired", "reason", err.Error())
			return outcome(OutcomeConflict)
		}
		log.Error(err, "acquire processing lock")
		return outcome(OutcomeFailed)
	}
	log.V(5).Info("processing lock acquired", "owner", o.Locks.Owner())

	ret := OutcomeProcessed
	result, err := runHandler(ctx, handler, locked)
	if err != nil {
		// releasing triggers the next attempt
		log.Error(err, "handle resource", "retryAfter", o.Options.WatchErrorDelay.String())
		result, ret = Released, OutcomeFailed
		select {
		case <-ctx.Done():
		case <-time.After(o.Options.WatchErrorDelay):
		}
		ctx = context.WithoutCancel(ctx)
	}

	switch result {
	case Retained:
		log.Info("processing lock retained by handler")
		return outcome(OutcomeHeld)
	case Released:
		if err := o.Locks.Release(ctx, details); err != nil {
			log.Error(err, "release processing lock")
		}
	}
	return outcome(ret)
}

func runHandler(ctx context.Context, handler Handler, res *apiserver.ManagedResource) (result Result, err error) {
	defer func() {
		if e := recover(); e != nil {
			result, err = Released, fmt.Errorf("handler panic: %v\n%s", e, debug.Stack())
		}
	}()
	return handler(ctx, res)
}

// RegisterWatcher watches the resources of a type in one of states and
// dispatches them to handler until ctx is done. The watch is re-registered
// every refreshInterval, and after WatchErrorDelay when it fails.
func (o *Operator) RegisterWatcher(ctx context.Context, resourceGroup, resourceType string, states []string, handler Handler, refreshInterval time.Duration) error {
	log := logr.FromContextOrDiscard(ctx).WithName("watcher").WithValues("group", resourceGroup, "type", resourceType, "states", states)
	ctx = logr.NewContext(ctx, log)
	query := apiserver.StateQuery(states...)

	concurrency := o.Options.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	dispatch := &dispatcher{sem: make(chan struct{}, concurrency)}
	defer dispatch.wg.Wait()

	log.Info("registering watcher", "refreshInterval", refreshInterval.String())
	for {
		err := o.watch(ctx, resourceGroup, resourceType, query, handler, refreshInterval, dispatch)
		if ctx.Err() != nil {
			log.Info("watcher stopped")
			return nil
		}
		if err == nil {
			watchRestartsTotal.WithLabelValues(resourceGroup, resourceType, "refresh").Inc()
			continue
		}
		watchRestartsTotal.WithLabelValues(resourceGroup, resourceType, "error").Inc()
		log.Error(err, "watch failed", "retryAfter", o.Options.WatchErrorDelay.String())
		select {
		case <-ctx.Done():
			log.Info("watcher stopped")
			return nil
		case <-time.After(o.Options.WatchErrorDelay):
		}
	}
}

type dispatcher struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func (o *Operator) watch(ctx context.Context, resourceGroup, resourceType, query string, handler Handler, refreshInterval time.Duration, dispatch *dispatcher) error {
	log := logr.FromContextOrDiscard(ctx)
	w, err := o.Client.Watch(ctx, resourceGroup, resourceType, query)
	if err != nil {
		return err
	}
	defer w.Stop()

	refresh := time.NewTimer(refreshInterval)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			log.V(5).Info("refreshing watch")
			return nil
		case event, ok := <-w.ResultChan():
			if !ok {
				log.V(5).Info("watch closed by store")
				return nil
			}
			switch event.Type {
			case watch.Added, watch.Modified:
			case watch.Error:
				return apierrors.FromObject(event.Object)
			default:
				continue
			}
			u, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				log.Info("unexpected watch object", "object", fmt.Sprintf("%T", event.Object))
				continue
			}
			res, err := apiserver.FromUnstructured(u)
			if err != nil {
				log.Error(err, "decode watched resource", "name", u.GetName())
				continue
			}
			log.V(5).Info("resource event", "event", event.Type, "name", res.Name, "state", res.Status.State)

			select {
			case dispatch.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			dispatch.wg.Add(1)
			go func() {
				defer func() {
					<-dispatch.sem
					dispatch.wg.Done()
				}()
				o.HandleResource(ctx, res, handler)
			}()
		}
	}
}
