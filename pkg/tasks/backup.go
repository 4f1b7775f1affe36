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

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator/task"
)

const (
	KeyBackupType = "backup_type"
	KeyTrigger    = "trigger"
)

// ServiceInstanceBackupTask queues a backup of the service instance and
// follows the state of the backup resource.
type ServiceInstanceBackupTask struct {
	task.BaseTask
}

func (t *ServiceInstanceBackupTask) Run(ctx context.Context, taskID string, details apiserver.Document) (*task.RunResult, error) {
	instanceID, err := requireString(details, task.KeyInstanceID)
	if err != nil {
		return nil, err
	}
	backupType := details.GetString(KeyBackupType)
	if backupType == "" {
		backupType = "online"
	}
	// one backup per task, a rerun finds the backup of its first run
	backupDetails := apiserver.ResourceDetails{
		ResourceGroup: apiserver.GroupBackup,
		ResourceType:  apiserver.TypeDefaultBackup,
		ResourceID:    BackupID(taskID),
	}
	backup, err := t.Client.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: backupDetails,
		Labels: map[string]string{task.KeyInstanceID: instanceID},
		Options: apiserver.Document{
			task.KeyInstanceID: instanceID,
			"type":             backupType,
			KeyTrigger:         "on-demand",
			"task_id":          taskID,
		},
		Status: &apiserver.ResourceStatus{State: apiserver.StateInQueue},
	})
	if apierrors.IsAlreadyExists(err) {
		backup, err = t.Client.GetResource(ctx, backupDetails)
	}
	if err != nil {
		return nil, err
	}
	created := backup.Details()
	return &task.RunResult{
		Resource: &created,
		Response: apiserver.Document{"description": fmt.Sprintf("Backup %s of instance %s queued", backup.Name, instanceID)},
	}, nil
}

// BackupID is the id of the backup queued by the task taskID.
func BackupID(taskID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID)).String()
}

func (t *ServiceInstanceBackupTask) GetStatus(ctx context.Context, taskID string, details apiserver.Document) (*apiserver.LastOperation, error) {
	resource, err := drivenResource(details)
	if err != nil {
		return nil, err
	}
	backup, err := t.Client.GetResource(ctx, resource)
	if err != nil {
		return nil, err
	}
	state := apiserver.OperationInProgress
	switch backup.Status.State {
	case apiserver.StateSucceeded:
		state = apiserver.OperationSucceeded
	case apiserver.StateFailed:
		state = apiserver.OperationFailed
	case apiserver.StateAborted:
		state = apiserver.OperationAborted
	}
	description := backup.Status.Description
	if description == "" {
		description = fmt.Sprintf("Backup %s is %s", backup.Name, backup.Status.State)
	}
	return &apiserver.LastOperation{State: state, Description: description}, nil
}
