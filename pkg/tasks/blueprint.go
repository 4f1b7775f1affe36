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

	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator/task"
)

// BlueprintTask does nothing and always succeeds.
type BlueprintTask struct {
	task.BaseTask
}

func (t *BlueprintTask) Run(ctx context.Context, taskID string, details apiserver.Document) (*task.RunResult, error) {
	return &task.RunResult{
		Response: apiserver.Document{"description": details.GetString(task.KeyTaskDescription) + " started"},
	}, nil
}

func (t *BlueprintTask) GetStatus(ctx context.Context, taskID string, details apiserver.Document) (*apiserver.LastOperation, error) {
	return &apiserver.LastOperation{
		State:       apiserver.OperationSucceeded,
		Description: details.GetString(task.KeyTaskDescription) + " succeeded",
	}, nil
}
