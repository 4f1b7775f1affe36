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

package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator"
)

// Runner executes the task resources of one resource group: it runs queued
// tasks and polls running ones until their work reaches a terminal state.
type Runner struct {
	*operator.Operator
	Registry      *Registry
	ResourceGroup string

	mu      sync.Mutex
	pollers map[string]context.CancelFunc
}

func NewRunner(op *operator.Operator, registry *Registry, resourceGroup string) *Runner {
	return &Runner{
		Operator:      op,
		Registry:      registry,
		ResourceGroup: resourceGroup,
		pollers:       map[string]context.CancelFunc{},
	}
}

func (r *Runner) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("task-runner").WithValues("group", r.ResourceGroup)
	ctx = logr.NewContext(ctx, log)

	if err := r.RegisterCrds(ctx, r.ResourceGroup, apiserver.TypeTask); err != nil {
		return err
	}
	log.Info("starting task runner", "types", r.Registry.Types())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return r.RegisterWatcher(ctx, r.ResourceGroup, apiserver.TypeTask,
			[]string{apiserver.StateInQueue}, r.ProcessRequest, r.Options.WatchRefreshInterval)
	})
	eg.Go(func() error {
		return r.RegisterWatcher(ctx, r.ResourceGroup, apiserver.TypeTask,
			[]string{apiserver.StateInProgress}, r.StartPoller, r.Options.PollerWatchRefreshInterval)
	})
	err := eg.Wait()
	r.stopAll()
	return err
}

// ProcessRequest runs a queued task and moves it to in progress.
func (r *Runner) ProcessRequest(ctx context.Context, res *apiserver.ManagedResource) (operator.Result, error) {
	details := res.Details()
	options, err := res.Options()
	if err != nil {
		return operator.Released, err
	}
	log := logr.FromContextOrDiscard(ctx).WithValues("task", res.Name, "type", options.GetString(KeyTaskType))

	task, err := r.Registry.Get(options.GetString(KeyTaskType))
	if err != nil {
		log.Error(err, "task cannot run")
		return operator.Released, r.finishFailed(ctx, details, err)
	}

	result, err := task.Run(ctx, res.Name, options)
	if apierrors.IsBadRequest(err) {
		log.Error(err, "task rejected")
		return operator.Released, r.finishFailed(ctx, details, err)
	}
	if err != nil {
		return operator.Released, fmt.Errorf("run task %s: %w", res.Name, err)
	}
	if result != nil {
		if result.Resource != nil {
			options[KeyResource] = map[string]interface{}{
				"resourceGroup": result.Resource.ResourceGroup,
				"resourceType":  result.Resource.ResourceType,
				"resourceId":    result.Resource.ResourceID,
			}
		}
		if result.Response != nil {
			options[KeyResponse] = result.Response
		}
	}

	if _, err := r.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Options:         options,
		Status: &apiserver.ResourceStatus{
			State:       apiserver.StateInProgress,
			Description: fmt.Sprintf("%s is in progress.", options.GetString(KeyTaskDescription)),
		},
	}); err != nil {
		return operator.Released, err
	}
	log.Info("task in progress")
	return operator.Released, nil
}

// StartPoller starts polling a running task and keeps its processing lock,
// unless a poller already runs for it.
func (r *Runner) StartPoller(ctx context.Context, res *apiserver.ManagedResource) (operator.Result, error) {
	details := res.Details()
	log := logr.FromContextOrDiscard(ctx).WithValues("task", res.Name)
	options, err := res.Options()
	if err != nil {
		return operator.Released, err
	}
	task, err := r.Registry.Get(options.GetString(KeyTaskType))
	if err != nil {
		log.Error(err, "task cannot be polled")
		return operator.Released, r.finishFailed(ctx, details, err)
	}

	key := details.String()
	r.mu.Lock()
	if _, ok := r.pollers[key]; ok {
		r.mu.Unlock()
		log.V(5).Info("task already polled")
		return operator.Released, nil
	}
	pollctx, cancel := context.WithCancel(ctx)
	r.pollers[key] = cancel
	r.mu.Unlock()
	operator.PollersGauge.WithLabelValues(r.ResourceGroup).Inc()

	log.Info("start polling task", "interval", r.Options.PollInterval.String())
	go r.poll(pollctx, key, details, task, options)
	return operator.Retained, nil
}

func (r *Runner) poll(ctx context.Context, key string, details apiserver.ResourceDetails, task Task, options apiserver.Document) {
	defer r.stopPoller(key)

	ticker := time.NewTicker(r.Options.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.pollOnce(ctx, key, details, task, options) {
				return
			}
		}
	}
}

// pollOnce reports whether polling is over.
func (r *Runner) pollOnce(ctx context.Context, key string, details apiserver.ResourceDetails, task Task, options apiserver.Document) bool {
	log := logr.FromContextOrDiscard(ctx).WithValues("task", details.ResourceID)

	status, err := task.GetStatus(ctx, details.ResourceID, options)
	if apierrors.IsNotFound(err) || apierrors.IsBadRequest(err) {
		status = &apiserver.LastOperation{State: apiserver.OperationFailed, Description: err.Error()}
	} else if err != nil {
		log.Error(err, "get task status")
	}

	if status != nil && apiserver.IsOperationFinished(status.State) {
		err := task.UpdateStatus(ctx, details, apiserver.ResourceStatus{
			State:       apiserver.StateDone,
			Description: status.Description,
			Response:    apiserver.Document{"state": status.State, "description": status.Description},
		})
		switch {
		case apierrors.IsNotFound(err):
			log.Info("task deleted while polling")
			return true
		case err != nil:
			log.Error(err, "update task status")
		default:
			log.Info("task finished", "state", status.State)
			r.stopPoller(key)
			if err := r.Locks.Release(context.WithoutCancel(ctx), details); err != nil {
				log.Error(err, "release processing lock")
			}
			return true
		}
	}

	if _, err := r.Locks.Retain(ctx, details); err != nil {
		switch {
		case apierrors.IsNotFound(err):
			log.Info("task deleted while polling")
			return true
		case apierrors.IsConflict(err):
			log.Info("processing lock lost, stop polling", "reason", err.Error())
			return true
		default:
			log.Error(err, "retain processing lock")
		}
	}
	return false
}

// finishFailed ends a task that can never succeed, its flow then fails.
func (r *Runner) finishFailed(ctx context.Context, details apiserver.ResourceDetails, cause error) error {
	_, err := r.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Status: &apiserver.ResourceStatus{
			State:       apiserver.StateDone,
			Description: cause.Error(),
			Response:    apiserver.Document{"state": apiserver.OperationFailed, "description": cause.Error()},
		},
	})
	return err
}

func (r *Runner) stopPoller(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.pollers[key]; ok {
		cancel()
		delete(r.pollers, key)
		operator.PollersGauge.WithLabelValues(r.ResourceGroup).Dec()
	}
}

func (r *Runner) stopAll() {
	r.mu.Lock()
	keys := make([]string, 0, len(r.pollers))
	for k := range r.pollers {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	for _, k := range keys {
		r.stopPoller(k)
	}
}

// Pollers is the number of tasks being polled.
func (r *Runner) Pollers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}
