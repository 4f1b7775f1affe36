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
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator"
	"servicefabrik.io/broker/pkg/operator/task"
)

// Coordinator drives serial flows: each flow runs the tasks of its
// definition one after the other and fails on the first failed task.
type Coordinator struct {
	*operator.Operator
	Flavor      Flavor
	Definitions Definitions

	now func() time.Time
}

func NewCoordinator(op *operator.Operator, flavor Flavor, defs Definitions) *Coordinator {
	return &Coordinator{Operator: op, Flavor: flavor, Definitions: defs, now: time.Now}
}

func (c *Coordinator) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName(c.Flavor.Noun).WithValues("group", c.Flavor.ResourceGroup)
	ctx = logr.NewContext(ctx, log)

	if err := c.RegisterCrds(ctx, c.Flavor.ResourceGroup, c.Flavor.ResourceType); err != nil {
		return err
	}
	if err := c.RegisterCrds(ctx, c.Flavor.ResourceGroup, apiserver.TypeTask); err != nil {
		return err
	}
	log.Info("starting flow coordinator", "definitions", c.Definitions.Names())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.RegisterWatcher(ctx, c.Flavor.ResourceGroup, c.Flavor.ResourceType,
			[]string{apiserver.StateInQueue}, c.ProcessRequest, c.Options.WatchRefreshInterval)
	})
	eg.Go(func() error {
		return c.RegisterWatcher(ctx, c.Flavor.ResourceGroup, apiserver.TypeTask,
			[]string{apiserver.StateDone}, c.RelayTask, c.Options.PollerWatchRefreshInterval)
	})
	return eg.Wait()
}

// Submit queues a new flow running definition name.
func (c *Coordinator) Submit(ctx context.Context, name string, options apiserver.Document) (*apiserver.ManagedResource, error) {
	if _, ok := c.Definitions[name]; !ok {
		return nil, apierrors.NewBadRequest(fmt.Sprintf("no %s definition named %q", c.Flavor.Noun, name))
	}
	flowOptions, err := apiserver.Document(options).Merge(apiserver.Document{c.Flavor.NameKey: name})
	if err != nil {
		return nil, err
	}
	return c.Client.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: c.flowDetails(uuid.NewString()),
		Options:         flowOptions,
		Status: &apiserver.ResourceStatus{
			State:         apiserver.StateInQueue,
			LastOperation: &apiserver.LastOperation{State: apiserver.StateInQueue, Description: fmt.Sprintf("%s %s queued", c.Flavor.Noun, name)},
		},
	})
}

// ProcessRequest starts a queued flow with the first task of its definition.
func (c *Coordinator) ProcessRequest(ctx context.Context, res *apiserver.ManagedResource) (operator.Result, error) {
	options, err := res.Options()
	if err != nil {
		return operator.Released, err
	}
	flowID := res.Name
	name := options.GetString(c.Flavor.NameKey)
	log := logr.FromContextOrDiscard(ctx).WithValues(c.Flavor.IDKey, flowID, "name", name)

	def, err := c.definition(ctx, flowID, name)
	if apierrors.IsBadRequest(err) {
		log.Error(err, "flow failed")
		return operator.Released, nil
	}
	if err != nil {
		return operator.Released, err
	}

	first := def.Tasks[0]
	if err := c.createTask(ctx, flowID, options, 0, first, nil); err != nil {
		return operator.Released, err
	}
	log.Info("flow started", "task", taskID(flowID, 0))

	description := fmt.Sprintf("%s in progress @ %s", first.GetString(task.KeyTaskDescription), c.timestamp())
	return operator.Released, c.updateFlowStatus(ctx, flowID, apiserver.StateInProgress, description)
}

// RelayTask hands the outcome of a finished task to its flow: it fails the
// flow, completes it, or creates the next task.
func (c *Coordinator) RelayTask(ctx context.Context, res *apiserver.ManagedResource) (operator.Result, error) {
	options, err := res.Options()
	if err != nil {
		return operator.Released, err
	}
	flowID := options.GetString(c.Flavor.IDKey)
	if flowID == "" {
		flowID = res.Labels[c.Flavor.IDKey]
	}
	taskDescription := options.GetString(task.KeyTaskDescription)
	response := res.Status.Response
	outcome := response.GetString("state")
	outcomeDescription := response.GetString("description")
	lastOperation := &apiserver.LastOperation{State: outcome, Description: outcomeDescription}

	order, ok := options.GetInt(task.KeyTaskOrder)
	if flowID == "" || !ok {
		err := fmt.Errorf("task %s has no %s or %s", res.Name, c.Flavor.IDKey, task.KeyTaskOrder)
		return operator.Released, c.dropTask(ctx, res, lastOperation, err)
	}
	log := logr.FromContextOrDiscard(ctx).WithValues(c.Flavor.IDKey, flowID, "task", res.Name)

	if outcome != apiserver.OperationSucceeded {
		if err := c.markTaskRelayed(ctx, res.Details(), lastOperation, outcomeDescription); err != nil {
			return operator.Released, err
		}
		log.Info("task failed, failing flow", "outcome", outcome)
		return operator.Released, c.updateFlowStatus(ctx, flowID, apiserver.StateFailed,
			fmt.Sprintf("%s failed. %s", taskDescription, outcomeDescription))
	}

	flow, err := c.Client.GetResource(ctx, c.flowDetails(flowID))
	if apierrors.IsNotFound(err) {
		return operator.Released, c.dropTask(ctx, res, lastOperation, err)
	}
	if err != nil {
		return operator.Released, err
	}
	flowOptions, err := flow.Options()
	if err != nil {
		return operator.Released, err
	}
	def, err := c.definition(ctx, flowID, flowOptions.GetString(c.Flavor.NameKey))
	if apierrors.IsBadRequest(err) {
		return operator.Released, c.dropTask(ctx, res, lastOperation, err)
	}
	if err != nil {
		return operator.Released, err
	}

	next := order + 1
	if next >= len(def.Tasks) {
		if err := c.markTaskRelayed(ctx, res.Details(), lastOperation, "Task complete, it is the last task of the flow"); err != nil {
			return operator.Released, err
		}
		log.Info("flow succeeded")
		return operator.Released, c.updateFlowStatus(ctx, flowID, apiserver.StateSucceeded,
			fmt.Sprintf("%s succeeded @ %s", def.Description, c.timestamp()))
	}

	previous := apiserver.Document{
		"type":        options.GetString(task.KeyTaskType),
		"description": taskDescription,
		"state":       res.Status.State,
		"response":    response,
	}
	nextOptions := options.DeepCopy()
	delete(nextOptions, task.KeyResource)
	delete(nextOptions, task.KeyResponse)
	if err := c.createTask(ctx, flowID, nextOptions, next, def.Tasks[next], previous); err != nil {
		return operator.Released, err
	}
	nextID := taskID(flowID, next)
	if err := c.markTaskRelayed(ctx, res.Details(), lastOperation, "Task complete and next relayed task is "+nextID); err != nil {
		return operator.Released, err
	}
	log.Info("task relayed", "next", nextID)
	return operator.Released, c.updateFlowStatus(ctx, flowID, apiserver.StateInProgress,
		fmt.Sprintf("%s is complete. Initiated %s @ %s", taskDescription, def.Tasks[next].GetString(task.KeyTaskDescription), c.timestamp()))
}

// definition looks up a flow definition. When there is none it fails the
// flow and returns a BadRequest.
func (c *Coordinator) definition(ctx context.Context, flowID, name string) (Definition, error) {
	if def, ok := c.Definitions[name]; ok && len(def.Tasks) > 0 {
		return def, nil
	}
	description := fmt.Sprintf("Invalid %s %s. No %s definition found!", c.Flavor.Noun, name, c.Flavor.Noun)
	if err := c.updateFlowStatus(ctx, flowID, apiserver.StateFailed, description); err != nil {
		return Definition{}, err
	}
	return Definition{}, apierrors.NewBadRequest(description)
}

// dropTask marks a finished task that has no flow to relay to.
func (c *Coordinator) dropTask(ctx context.Context, res *apiserver.ManagedResource, lastOperation *apiserver.LastOperation, cause error) error {
	logr.FromContextOrDiscard(ctx).Error(cause, "task not relayed", "task", res.Name)
	return c.markTaskRelayed(ctx, res.Details(), lastOperation, "Task not relayed. "+cause.Error())
}

func (c *Coordinator) createTask(ctx context.Context, flowID string, options apiserver.Document, order int, template, previous apiserver.Document) error {
	taskOptions, err := options.Merge(template)
	if err != nil {
		return err
	}
	delete(taskOptions, task.KeyPreviousTask)
	taskOptions[c.Flavor.IDKey] = flowID
	taskOptions[task.KeyTaskOrder] = order
	if previous != nil {
		taskOptions[task.KeyPreviousTask] = previous
	}

	id := taskID(flowID, order)
	_, err = c.Client.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: apiserver.ResourceDetails{ResourceGroup: c.Flavor.ResourceGroup, ResourceType: apiserver.TypeTask, ResourceID: id},
		Labels: map[string]string{
			c.Flavor.IDKey:           flowID,
			apiserver.LabelTaskOrder: strconv.Itoa(order),
		},
		Options: taskOptions,
		Status:  &apiserver.ResourceStatus{State: apiserver.StateInQueue},
	})
	if apierrors.IsAlreadyExists(err) {
		logr.FromContextOrDiscard(ctx).Info("task already created, skipped", "task", id)
		return nil
	}
	return err
}

func (c *Coordinator) markTaskRelayed(ctx context.Context, details apiserver.ResourceDetails, lastOperation *apiserver.LastOperation, description string) error {
	_, err := c.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Status: &apiserver.ResourceStatus{
			State:         apiserver.StateRelayed,
			Description:   description,
			LastOperation: lastOperation,
		},
	})
	return err
}

func (c *Coordinator) updateFlowStatus(ctx context.Context, flowID, state, description string) error {
	_, err := c.Client.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: c.flowDetails(flowID),
		Status: &apiserver.ResourceStatus{
			State:         state,
			Description:   description,
			LastOperation: &apiserver.LastOperation{State: state, Description: description},
		},
	})
	return err
}

func (c *Coordinator) flowDetails(flowID string) apiserver.ResourceDetails {
	return apiserver.ResourceDetails{
		ResourceGroup: c.Flavor.ResourceGroup,
		ResourceType:  c.Flavor.ResourceType,
		ResourceID:    flowID,
	}
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func taskID(flowID string, order int) string {
	return fmt.Sprintf("%s.%d", flowID, order)
}
