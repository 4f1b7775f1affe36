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
	"sort"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
)

// option keys of a task resource
const (
	KeyTaskType        = "task_type"
	KeyTaskDescription = "task_description"
	KeyTaskOrder       = "task_order"
	KeyPreviousTask    = "previous_task"
	KeyResource        = "resource"
	KeyResponse        = "response"
	KeyInstanceID      = "instance_id"
)

// Task is one kind of step a flow runs.
type Task interface {
	// Run starts the work of the task resource taskID.
	Run(ctx context.Context, taskID string, details apiserver.Document) (*RunResult, error)
	// GetStatus probes the work started by Run.
	GetStatus(ctx context.Context, taskID string, details apiserver.Document) (*apiserver.LastOperation, error)
	// UpdateStatus writes the status of the task resource.
	UpdateStatus(ctx context.Context, details apiserver.ResourceDetails, status apiserver.ResourceStatus) error
}

// RunResult is merged into the options of the task once Run returns.
type RunResult struct {
	// Resource is the resource the task drives, if any.
	Resource *apiserver.ResourceDetails
	Response apiserver.Document
}

// BaseTask implements UpdateStatus on the store.
type BaseTask struct {
	Client apiserver.Client
}

func (t BaseTask) UpdateStatus(ctx context.Context, details apiserver.ResourceDetails, status apiserver.ResourceStatus) error {
	_, err := t.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Status:          &status,
	})
	return err
}

// Registry maps task types to their implementation.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{}}
}

func (r *Registry) Register(taskType string, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskType]; ok {
		panic(fmt.Sprintf("task type %s registered twice", taskType))
	}
	r.tasks[taskType] = task
}

// Get returns the task of taskType, an unknown type is a BadRequest.
func (r *Registry) Get(taskType string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskType]
	if !ok {
		return nil, apierrors.NewBadRequest(fmt.Sprintf("unknown task type %q, valid types are %s",
			taskType, strings.Join(r.types(), ", ")))
	}
	return task, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types()
}

func (r *Registry) types() []string {
	types := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
