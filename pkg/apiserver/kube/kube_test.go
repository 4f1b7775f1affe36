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

package kube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"servicefabrik.io/broker/pkg/apiserver"
)

func newTestClient() (*Client, *apiextensionsfake.Clientset) {
	gvr := schema.GroupVersionResource{Group: apiserver.GroupWorkflow, Version: apiserver.APIVersion, Resource: apiserver.TypeTask}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		gvr: "TaskList",
	})
	crds := apiextensionsfake.NewSimpleClientset()
	return NewClientFrom(dyn, crds, "broker"), crds
}

func TestClient_RegisterCrds(t *testing.T) {
	ctx := context.Background()
	cli, crds := newTestClient()

	require.NoError(t, cli.RegisterCrds(ctx, apiserver.GroupWorkflow, apiserver.TypeTask))
	// registering again updates in place
	require.NoError(t, cli.RegisterCrds(ctx, apiserver.GroupWorkflow, apiserver.TypeTask))

	crd, err := crds.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, "tasks.workflow.servicefabrik.io", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Task", crd.Spec.Names.Kind)
	assert.Equal(t, "TaskList", crd.Spec.Names.ListKind)
	require.Len(t, crd.Spec.Versions, 1)
	assert.Equal(t, apiserver.APIVersion, crd.Spec.Versions[0].Name)
	assert.Equal(t, "string", crd.Spec.Versions[0].Schema.OpenAPIV3Schema.Properties["spec"].Properties["options"].Type)
}

func TestClient_Resources(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestClient()
	details := apiserver.ResourceDetails{ResourceGroup: apiserver.GroupWorkflow, ResourceType: apiserver.TypeTask, ResourceID: "wf-1.0"}

	created, err := cli.CreateResource(ctx, apiserver.CreateOptions{
		ResourceDetails: details,
		Labels:          map[string]string{"workflowId": "wf-1", apiserver.LabelTaskOrder: "0"},
		Options:         apiserver.Document{"task_type": "BlueprintTask"},
		Status:          &apiserver.ResourceStatus{State: apiserver.StateInQueue},
	})
	require.NoError(t, err)
	assert.Equal(t, "/apis/workflow.servicefabrik.io/v1alpha1/namespaces/broker/tasks/wf-1.0", created.SelfLink)
	assert.Equal(t, details, created.Details())

	updated, err := cli.UpdateResource(ctx, apiserver.UpdateOptions{
		ResourceDetails: details,
		Annotations:     map[string]string{apiserver.AnnotationLockedByManager: ""},
		Status: &apiserver.ResourceStatus{
			State:    apiserver.StateDone,
			Response: apiserver.Document{"state": apiserver.OperationSucceeded},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, apiserver.StateDone, updated.Status.State)
	assert.Equal(t, apiserver.StateDone, updated.Labels[apiserver.LabelState])
	assert.Equal(t, "wf-1", updated.Labels["workflowId"])
	assert.Equal(t, apiserver.OperationSucceeded, updated.Status.Response.GetString("state"))

	got, err := cli.GetResource(ctx, details)
	require.NoError(t, err)
	options, err := got.Options()
	require.NoError(t, err)
	assert.Equal(t, "BlueprintTask", options.GetString("task_type"))

	done, err := cli.ListResources(ctx, apiserver.GroupWorkflow, apiserver.TypeTask, apiserver.StateQuery(apiserver.StateDone))
	require.NoError(t, err)
	assert.Len(t, done, 1)
	queued, err := cli.ListResources(ctx, apiserver.GroupWorkflow, apiserver.TypeTask, apiserver.StateQuery(apiserver.StateInQueue))
	require.NoError(t, err)
	assert.Len(t, queued, 0)

	require.NoError(t, cli.DeleteResource(ctx, details))
	_, err = cli.GetResource(ctx, details)
	assert.True(t, apierrors.IsNotFound(err))
}
