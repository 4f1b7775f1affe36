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

package tasks

import (
	"context"
	"fmt"

	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator/task"
)

const KeyOperationParams = "operation_params"

// ServiceInstanceUpdateTask asks the deployment operator to update the
// service instance and follows the last operation of its director resource.
type ServiceInstanceUpdateTask struct {
	task.BaseTask
}

func (t *ServiceInstanceUpdateTask) Run(ctx context.Context, taskID string, details apiserver.Document) (*task.RunResult, error) {
	instanceID, err := requireString(details, task.KeyInstanceID)
	if err != nil {
		return nil, err
	}
	director := apiserver.ResourceDetails{
		ResourceGroup: apiserver.GroupDeployment,
		ResourceType:  apiserver.TypeDirector,
		ResourceID:    instanceID,
	}
	current, err := t.Client.GetResource(ctx, director)
	if err != nil {
		return nil, err
	}
	options, err := current.Options()
	if err != nil {
		return nil, err
	}
	options, err = options.Merge(details.GetDocument(KeyOperationParams))
	if err != nil {
		return nil, err
	}
	description := fmt.Sprintf("Update of service instance %s triggered by %s", instanceID, taskID)
	if _, err := t.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: director,
		ResourceVersion: current.ResourceVersion,
		Options:         options,
		Status: &apiserver.ResourceStatus{
			State:         apiserver.StateUpdate,
			Description:   description,
			LastOperation: &apiserver.LastOperation{State: apiserver.OperationInProgress, Description: description},
		},
	}); err != nil {
		return nil, err
	}
	return &task.RunResult{
		Resource: &director,
		Response: apiserver.Document{"description": description},
	}, nil
}

func (t *ServiceInstanceUpdateTask) GetStatus(ctx context.Context, taskID string, details apiserver.Document) (*apiserver.LastOperation, error) {
	resource, err := drivenResource(details)
	if err != nil {
		return nil, err
	}
	director, err := t.Client.GetResource(ctx, resource)
	if err != nil {
		return nil, err
	}
	if op := director.Status.LastOperation; op != nil && apiserver.IsOperationFinished(op.State) {
		return op, nil
	}
	return &apiserver.LastOperation{
		State:       apiserver.OperationInProgress,
		Description: fmt.Sprintf("Update of service instance %s is in progress", resource.ResourceID),
	}, nil
}
