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
	"strings"

	"github.com/go-logr/logr"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/pointer"
	"servicefabrik.io/broker/pkg/apiserver"
)

// WatchTimeoutSeconds bounds a single watch request on the api server.
const WatchTimeoutSeconds int64 = 600

var _ apiserver.Client = &Client{}

// Client keeps resources as custom resources of a Kubernetes api server.
type Client struct {
	dynamic   dynamic.Interface
	crds      apiextensionsclientset.Interface
	namespace string
}

func NewClient(cfg *rest.Config, namespace string) (*Client, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	crds, err := apiextensionsclientset.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientFrom(dyn, crds, namespace), nil
}

func NewClientFrom(dyn dynamic.Interface, crds apiextensionsclientset.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = apiserver.Namespace
	}
	return &Client{dynamic: dyn, crds: crds, namespace: namespace}
}

func (c *Client) resource(details apiserver.ResourceDetails) dynamic.ResourceInterface {
	return c.dynamic.Resource(details.GroupVersionResource()).Namespace(c.namespace)
}

func (c *Client) RegisterCrds(ctx context.Context, resourceGroup, resourceType string) error {
	log := logr.FromContextOrDiscard(ctx)
	crd := NewCustomResourceDefinition(resourceGroup, resourceType)
	crdcli := c.crds.ApiextensionsV1().CustomResourceDefinitions()

	_, err := crdcli.Create(ctx, crd, metav1.CreateOptions{})
	if err == nil {
		log.Info("crd registered", "crd", crd.Name)
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := crdcli.Get(ctx, crd.Name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		existing.Spec = crd.Spec
		if _, err := crdcli.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return err
		}
		log.V(5).Info("crd updated", "crd", crd.Name)
		return nil
	})
}

func (c *Client) Watch(ctx context.Context, resourceGroup, resourceType, query string) (watch.Interface, error) {
	if _, err := apiserver.ParseSelector(query); err != nil {
		return nil, err
	}
	timeout := WatchTimeoutSeconds
	details := apiserver.ResourceDetails{ResourceGroup: resourceGroup, ResourceType: resourceType}
	return c.resource(details).Watch(ctx, metav1.ListOptions{
		LabelSelector:  query,
		TimeoutSeconds: &timeout,
	})
}

func (c *Client) CreateResource(ctx context.Context, opts apiserver.CreateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("create", "resource", opts.ResourceDetails.String())
	created, err := c.resource(opts.ResourceDetails).Create(ctx, apiserver.NewUnstructured(c.namespace, opts), metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}
	return apiserver.FromUnstructured(created)
}

func (c *Client) UpdateResource(ctx context.Context, opts apiserver.UpdateOptions) (*apiserver.ManagedResource, error) {
	logr.FromContextOrDiscard(ctx).V(5).Info("update", "resource", opts.ResourceDetails.String(), "resourceVersion", opts.ResourceVersion)
	patch, err := apiserver.MergePatch(opts)
	if err != nil {
		return nil, err
	}
	patched, err := c.resource(opts.ResourceDetails).Patch(ctx, opts.ResourceID, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, err
	}
	return apiserver.FromUnstructured(patched)
}

func (c *Client) GetResource(ctx context.Context, details apiserver.ResourceDetails) (*apiserver.ManagedResource, error) {
	obj, err := c.resource(details).Get(ctx, details.ResourceID, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return apiserver.FromUnstructured(obj)
}

func (c *Client) ListResources(ctx context.Context, resourceGroup, resourceType, query string) ([]*apiserver.ManagedResource, error) {
	details := apiserver.ResourceDetails{ResourceGroup: resourceGroup, ResourceType: resourceType}
	list, err := c.resource(details).List(ctx, metav1.ListOptions{LabelSelector: query})
	if err != nil {
		return nil, err
	}
	ret := make([]*apiserver.ManagedResource, 0, len(list.Items))
	for i := range list.Items {
		res, err := apiserver.FromUnstructured(&list.Items[i])
		if err != nil {
			return nil, err
		}
		ret = append(ret, res)
	}
	return ret, nil
}

func (c *Client) DeleteResource(ctx context.Context, details apiserver.ResourceDetails) error {
	logr.FromContextOrDiscard(ctx).V(5).Info("delete", "resource", details.String())
	return c.resource(details).Delete(ctx, details.ResourceID, metav1.DeleteOptions{})
}

// NewCustomResourceDefinition describes a namespaced resource type whose
// spec.options is a serialized document and whose status is free form.
func NewCustomResourceDefinition(resourceGroup, resourceType string) *apiextensionsv1.CustomResourceDefinition {
	kind := apiserver.KindForResourceType(resourceType)
	return &apiextensionsv1.CustomResourceDefinition{
		TypeMeta: metav1.TypeMeta{
			APIVersion: apiextensionsv1.SchemeGroupVersion.String(),
			Kind:       "CustomResourceDefinition",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: resourceType + "." + resourceGroup,
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: resourceGroup,
			Scope: apiextensionsv1.NamespaceScoped,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural:   resourceType,
				Singular: strings.ToLower(kind),
				Kind:     kind,
				ListKind: kind + "List",
			},
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    apiserver.APIVersion,
					Served:  true,
					Storage: true,
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
							Type: "object",
							Properties: map[string]apiextensionsv1.JSONSchemaProps{
								"spec": {
									Type: "object",
									Properties: map[string]apiextensionsv1.JSONSchemaProps{
										"options": {Type: "string"},
									},
								},
								"status": {
									Type:                   "object",
									XPreserveUnknownFields: pointer.Bool(true),
								},
							},
						},
					},
					AdditionalPrinterColumns: []apiextensionsv1.CustomResourceColumnDefinition{
						{Name: "State", Type: "string", JSONPath: ".status.state"},
						{Name: "Age", Type: "date", JSONPath: ".metadata.creationTimestamp"},
					},
				},
			},
		},
	}
}

