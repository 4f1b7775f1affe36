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
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/clients/bosh"
	"servicefabrik.io/broker/pkg/operator/task"
)

const (
	KeyDeployment = "deployment_name"
	KeyErrand     = "errand"
	KeyInstances  = "instances"
	KeyBoshTaskID = "bosh_task_id"
)

// BoshErrandTask runs an errand of a BOSH deployment and follows its BOSH task.
type BoshErrandTask struct {
	task.BaseTask
	Director Director
}

func (t *BoshErrandTask) Run(ctx context.Context, taskID string, details apiserver.Document) (*task.RunResult, error) {
	if t.Director == nil {
		return nil, apierrors.NewBadRequest("no bosh director configured")
	}
	deployment, err := requireString(details, KeyDeployment)
	if err != nil {
		return nil, err
	}
	errand, err := requireString(details, KeyErrand)
	if err != nil {
		return nil, err
	}
	boshTaskID, err := t.Director.RunErrand(ctx, deployment, errand, instances(details))
	if err != nil {
		return nil, err
	}
	return &task.RunResult{
		Response: apiserver.Document{
			KeyBoshTaskID: boshTaskID,
			"description": fmt.Sprintf("Errand %s triggered on deployment %s", errand, deployment),
		},
	}, nil
}

func (t *BoshErrandTask) GetStatus(ctx context.Context, taskID string, details apiserver.Document) (*apiserver.LastOperation, error) {
	boshTaskID := details.GetDocument(task.KeyResponse).GetString(KeyBoshTaskID)
	if boshTaskID == "" {
		return nil, apierrors.NewBadRequest("errand was not started")
	}
	boshTask, err := t.Director.GetTask(ctx, boshTaskID)
	if err != nil {
		return nil, err
	}
	state := boshTask.OperationState()
	description := fmt.Sprintf("Errand %s is %s", details.GetString(KeyErrand), boshTask.State)
	if apiserver.IsOperationFinished(state) {
		at := time.Unix(boshTask.Timestamp, 0).UTC().Format(time.RFC3339)
		description = fmt.Sprintf("Errand %s %s at %s with result %q", details.GetString(KeyErrand), state, at, boshTask.Result)
	}
	return &apiserver.LastOperation{State: state, Description: description}, nil
}

func instances(details apiserver.Document) []bosh.Instance {
	list, _ := details[KeyInstances].([]interface{})
	ret := make([]bosh.Instance, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		doc := apiserver.Document(m)
		ret = append(ret, bosh.Instance{Group: doc.GetString("group"), ID: doc.GetString("id")})
	}
	return ret
}
