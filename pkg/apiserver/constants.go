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

package apiserver

const (
	APIVersion = "v1alpha1"
	Namespace  = "default"
)

// resource groups
const (
	GroupWorkflow    = "workflow.servicefabrik.io"
	GroupServiceFlow = "serviceflow.servicefabrik.io"
	GroupBackup      = "backup.servicefabrik.io"
	GroupDeployment  = "deployment.servicefabrik.io"
)

// resource types
const (
	TypeSerialWorkflow    = "serialworkflows"
	TypeSerialServiceFlow = "serialserviceflows"
	TypeTask              = "tasks"
	TypeDefaultBackup     = "defaultbackups"
	TypeDirector          = "directors"
)

// resource states
const (
	StateInQueue    = "in_queue"
	StateInProgress = "in_progress"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
	StateAborted    = "aborted"
	StateUpdate     = "update"

	// StateDone marks a task whose work finished and whose outcome waits to be relayed.
	StateDone = "DONE"
	// StateRelayed marks a task whose outcome was handed to its flow.
	StateRelayed = "RELAYED"
)

// operation outcomes reported by task status probes
const (
	OperationSucceeded  = "succeeded"
	OperationFailed     = "failed"
	OperationInProgress = "in progress"
	OperationAborted    = "aborted"
)

const (
	// LabelState mirrors status.state so watches can select on it.
	LabelState = "state"
	// LabelTaskOrder is set on tasks with their position in the flow.
	LabelTaskOrder = "task_order"

	AnnotationLockedByManager     = "lockedByManager"
	AnnotationProcessingStartedAt = "processingStartedAt"
)

// IsOperationFinished reports whether state is a terminal operation outcome.
func IsOperationFinished(state string) bool {
	switch state {
	case OperationSucceeded, OperationFailed, OperationAborted:
		return true
	default:
		return false
	}
}
