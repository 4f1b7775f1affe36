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

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/clients/bosh"
	"servicefabrik.io/broker/pkg/operator/task"
)

const (
	TypeBlueprint             = "BlueprintTask"
	TypeBoshErrand            = "BoshErrandTask"
	TypeServiceInstanceBackup = "ServiceInstanceBackupTask"
	TypeServiceInstanceUpdate = "ServiceInstanceUpdateTask"
)

// Director runs errands on a BOSH director.
type Director interface {
	RunErrand(ctx context.Context, deployment, errand string, instances []bosh.Instance) (string, error)
	GetTask(ctx context.Context, taskID string) (*bosh.Task, error)
}

// Register adds every task type to registry.
func Register(registry *task.Registry, client apiserver.Client, director Director) {
	base := task.BaseTask{Client: client}
	registry.Register(TypeBlueprint, &BlueprintTask{BaseTask: base})
	registry.Register(TypeBoshErrand, &BoshErrandTask{BaseTask: base, Director: director})
	registry.Register(TypeServiceInstanceBackup, &ServiceInstanceBackupTask{BaseTask: base})
	registry.Register(TypeServiceInstanceUpdate, &ServiceInstanceUpdateTask{BaseTask: base})
}

func requireString(details apiserver.Document, key string) (string, error) {
	val := details.GetString(key)
	if val == "" {
		return "", apierrors.NewBadRequest(fmt.Sprintf("option %s is required", key))
	}
	return val, nil
}

// drivenResource returns the resource recorded on the task by its run.
func drivenResource(details apiserver.Document) (apiserver.ResourceDetails, error) {
	doc := details.GetDocument(task.KeyResource)
	res := apiserver.ResourceDetails{
		ResourceGroup: doc.GetString("resourceGroup"),
		ResourceType:  doc.GetString("resourceType"),
		ResourceID:    doc.GetString("resourceId"),
	}
	if res.ResourceID == "" {
		return res, apierrors.NewBadRequest("task has no resource to follow")
	}
	return res, nil
}
