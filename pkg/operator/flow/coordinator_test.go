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

package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/apiserver/memory"
	"servicefabrik.io/broker/pkg/operator"
	"servicefabrik.io/broker/pkg/operator/task"
)

var testDefinitions = Definitions{
	"two_steps": {
		Description: "Two steps",
		Tasks: []apiserver.Document{
			{task.KeyTaskType: "StepTask", task.KeyTaskDescription: "Step 1", "step": "one"},
			{task.KeyTaskType: "StepTask", task.KeyTaskDescription: "Step 2", "step": "two"},
		},
	},
}

var testNow = time.Date(2022, 5, 1, 10, 0, 0, 0, time.UTC)

func setupCoordinator(t *testing.T) (*Coordinator, apiserver.Client) {
	cli := memory.NewClient()
	op := operator.New(cli, &operator.Options{Identity: "broker-0", LockTimeout: time.Minute})
	c := NewCoordinator(op, WorkFlow, testDefinitions)
	c.now = func() time.Time { return testNow }
	return c, cli
}

func getTask(t *testing.T, cli apiserver.Client, id string) *apiserver.ManagedResource {
	t.Helper()
	res, err := cli.GetResource(context.Background(), apiserver.ResourceDetails{
		ResourceGroup: apiserver.GroupWorkflow, ResourceType: apiserver.TypeTask, ResourceID: id,
	})
	require.NoError(t, err)
	return res
}

func finishTask(t *testing.T, cli apiserver.Client, id, state string) *apiserver.ManagedResource {
	t.Helper()
	res, err := cli.UpdateResource(context.Background(), apiserver.UpdateOptions{
		ResourceDetails: apiserver.ResourceDetails{ResourceGroup: apiserver.GroupWorkflow, ResourceType: apiserver.TypeTask, ResourceID: id},
		Status: &apiserver.ResourceStatus{
			State:    apiserver.StateDone,
			Response: apiserver.Document{"state": state, "description": "step " + state},
		},
	})
	require.NoError(t, err)
	return res
}

func TestCoordinator_Submit(t *testing.T) {
	ctx := context.Background()
	c, _ := setupCoordinator(t)

	_, err := c.Submit(ctx, "unknown", nil)
	assert.True(t, apierrors.IsBadRequest(err))

	flow, err := c.Submit(ctx, "two_steps", apiserver.Document{task.KeyInstanceID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateInQueue, flow.Status.State)
	options, err := flow.Options()
	require.NoError(t, err)
	assert.Equal(t, "two_steps", options.GetString(WorkFlow.NameKey))
	assert.Equal(t, "i-1", options.GetString(task.KeyInstanceID))
}

func TestCoordinator_Saga(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	flow, err := c.Submit(ctx, "two_steps", apiserver.Document{task.KeyInstanceID: "i-1"})
	require.NoError(t, err)
	flowID := flow.Name

	result, err := c.ProcessRequest(ctx, flow)
	require.NoError(t, err)
	assert.Equal(t, operator.Released, result)

	flow, err = cli.GetResource(ctx, c.flowDetails(flowID))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateInProgress, flow.Status.State)
	assert.Equal(t, "Step 1 in progress @ 2022-05-01T10:00:00Z", flow.Status.Description)

	first := getTask(t, cli, flowID+".0")
	assert.Equal(t, apiserver.StateInQueue, first.Status.State)
	assert.Equal(t, flowID, first.Labels[WorkFlow.IDKey])
	assert.Equal(t, "0", first.Labels[apiserver.LabelTaskOrder])
	options, err := first.Options()
	require.NoError(t, err)
	assert.Equal(t, "one", options.GetString("step"))
	assert.Equal(t, "i-1", options.GetString(task.KeyInstanceID))
	assert.Equal(t, flowID, options.GetString(WorkFlow.IDKey))

	// a replayed request must not fail on the existing task
	_, err = c.ProcessRequest(ctx, flow)
	require.NoError(t, err)

	done := finishTask(t, cli, flowID+".0", apiserver.OperationSucceeded)
	_, err = c.RelayTask(ctx, done)
	require.NoError(t, err)

	relayed := getTask(t, cli, flowID+".0")
	assert.Equal(t, apiserver.StateRelayed, relayed.Status.State)
	assert.Equal(t, "Task complete and next relayed task is "+flowID+".1", relayed.Status.Description)

	second := getTask(t, cli, flowID+".1")
	assert.Equal(t, "1", second.Labels[apiserver.LabelTaskOrder])
	options, err = second.Options()
	require.NoError(t, err)
	assert.Equal(t, "two", options.GetString("step"))
	assert.Equal(t, "Step 2", options.GetString(task.KeyTaskDescription))
	assert.Equal(t, "i-1", options.GetString(task.KeyInstanceID))
	previous := options.GetDocument(task.KeyPreviousTask)
	assert.Equal(t, "Step 1", previous.GetString("description"))
	assert.Equal(t, apiserver.StateDone, previous.GetString("state"))
	assert.Equal(t, apiserver.OperationSucceeded, previous.GetDocument("response").GetString("state"))

	flow, err = cli.GetResource(ctx, c.flowDetails(flowID))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateInProgress, flow.Status.State)
	assert.Equal(t, "Step 1 is complete. Initiated Step 2 @ 2022-05-01T10:00:00Z", flow.Status.Description)

	done = finishTask(t, cli, flowID+".1", apiserver.OperationSucceeded)
	_, err = c.RelayTask(ctx, done)
	require.NoError(t, err)

	flow, err = cli.GetResource(ctx, c.flowDetails(flowID))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateSucceeded, flow.Status.State)
	assert.Equal(t, "Two steps succeeded @ 2022-05-01T10:00:00Z", flow.Status.Description)
	require.NotNil(t, flow.Status.LastOperation)
	assert.Equal(t, apiserver.StateSucceeded, flow.Status.LastOperation.State)

	tasks, err := cli.ListResources(ctx, apiserver.GroupWorkflow, apiserver.TypeTask, "")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCoordinator_FailFast(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	flow, err := c.Submit(ctx, "two_steps", nil)
	require.NoError(t, err)
	_, err = c.ProcessRequest(ctx, flow)
	require.NoError(t, err)

	done := finishTask(t, cli, flow.Name+".0", apiserver.OperationFailed)
	_, err = c.RelayTask(ctx, done)
	require.NoError(t, err)

	flow, err = cli.GetResource(ctx, c.flowDetails(flow.Name))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateFailed, flow.Status.State)
	assert.Equal(t, "Step 1 failed. step failed", flow.Status.Description)
	assert.Equal(t, apiserver.StateRelayed, getTask(t, cli, flow.Name+".0").Status.State)

	_, err = cli.GetResource(ctx, apiserver.ResourceDetails{
		ResourceGroup: apiserver.GroupWorkflow, ResourceType: apiserver.TypeTask, ResourceID: flow.Name + ".1",
	})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestCoordinator_UnknownDefinition(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	flow, err := cli.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: c.flowDetails("wf-1"),
		Options:         apiserver.Document{WorkFlow.NameKey: "missing"},
		Status:          &apiserver.ResourceStatus{State: apiserver.StateInQueue},
	})
	require.NoError(t, err)

	_, err = c.ProcessRequest(ctx, flow)
	require.NoError(t, err)

	flow, err = cli.GetResource(ctx, c.flowDetails("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateFailed, flow.Status.State)
	assert.Equal(t, "Invalid workflow missing. No workflow definition found!", flow.Status.Description)
}

func TestCoordinator_RelayTaskWithoutFlow(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	res, err := cli.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: apiserver.ResourceDetails{ResourceGroup: apiserver.GroupWorkflow, ResourceType: apiserver.TypeTask, ResourceID: "orphan"},
		Options:         apiserver.Document{task.KeyTaskType: "StepTask"},
		Status:          &apiserver.ResourceStatus{State: apiserver.StateDone},
	})
	require.NoError(t, err)
	_, err = c.RelayTask(ctx, res)
	require.NoError(t, err)

	orphan := getTask(t, cli, "orphan")
	assert.Equal(t, apiserver.StateRelayed, orphan.Status.State)
	assert.Contains(t, orphan.Status.Description, "Task not relayed.")
}

func TestCoordinator_RelayTaskOfDeletedFlow(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	flow, err := c.Submit(ctx, "two_steps", nil)
	require.NoError(t, err)
	_, err = c.ProcessRequest(ctx, flow)
	require.NoError(t, err)
	require.NoError(t, cli.DeleteResource(ctx, c.flowDetails(flow.Name)))

	done := finishTask(t, cli, flow.Name+".0", apiserver.OperationSucceeded)
	_, err = c.RelayTask(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateRelayed, getTask(t, cli, flow.Name+".0").Status.State)
}

func TestCoordinator_RelayTaskOfUnknownDefinition(t *testing.T) {
	ctx := context.Background()
	c, cli := setupCoordinator(t)

	flow, err := c.Submit(ctx, "two_steps", nil)
	require.NoError(t, err)
	_, err = c.ProcessRequest(ctx, flow)
	require.NoError(t, err)
	c.Definitions = Definitions{}

	done := finishTask(t, cli, flow.Name+".0", apiserver.OperationSucceeded)
	_, err = c.RelayTask(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateRelayed, getTask(t, cli, flow.Name+".0").Status.State)

	flow, err = cli.GetResource(ctx, c.flowDetails(flow.Name))
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateFailed, flow.Status.State)
}
