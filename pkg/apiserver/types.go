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

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ManagedResource is a named, typed and versioned record of the store.
// It is the unit that is watched, leased and dispatched.
type ManagedResource struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ResourceSpec   `json:"spec,omitempty"`
	Status ResourceStatus `json:"status,omitempty"`
}

type ResourceSpec struct {
	// Options is the serialized options document of the resource.
	Options string `json:"options,omitempty"`
}

type ResourceStatus struct {
	State         string         `json:"state,omitempty"`
	Description   string         `json:"description,omitempty"`
	Response      Document       `json:"response,omitempty"`
	LastOperation *LastOperation `json:"lastOperation,omitempty"`
}

type LastOperation struct {
	State       string `json:"state,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResourceDetails addresses a resource in the store.
type ResourceDetails struct {
	ResourceGroup string `json:"resourceGroup,omitempty"`
	ResourceType  string `json:"resourceType,omitempty"`
	ResourceID    string `json:"resourceId,omitempty"`
}

func (d ResourceDetails) String() string {
	return fmt.Sprintf("%s/%s/%s", d.ResourceGroup, d.ResourceType, d.ResourceID)
}

// GroupResource is the group resource used by status errors about d.
func (d ResourceDetails) GroupResource() schema.GroupResource {
	return schema.GroupResource{Group: d.ResourceGroup, Resource: d.ResourceType}
}

func (d ResourceDetails) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: d.ResourceGroup, Version: APIVersion, Resource: d.ResourceType}
}

// Details returns the address of the resource, parsed from its self link
// and falling back to its group version kind and name.
func (r *ManagedResource) Details() ResourceDetails {
	if d, err := ParseResourceDetailsFromSelfLink(r.SelfLink); err == nil {
		return d
	}
	gv, _ := schema.ParseGroupVersion(r.APIVersion)
	return ResourceDetails{
		ResourceGroup: gv.Group,
		ResourceType:  ResourceTypeForKind(r.Kind),
		ResourceID:    r.Name,
	}
}

// Options parses the options document of the resource.
func (r *ManagedResource) Options() (Document, error) {
	return ParseDocument(r.Spec.Options)
}

func (r *ManagedResource) DeepCopy() *ManagedResource {
	if r == nil {
		return nil
	}
	out := &ManagedResource{
		TypeMeta: r.TypeMeta,
		Spec:     r.Spec,
	}
	r.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Status = ResourceStatus{
		State:       r.Status.State,
		Description: r.Status.Description,
		Response:    r.Status.Response.DeepCopy(),
	}
	if r.Status.LastOperation != nil {
		lastop := *r.Status.LastOperation
		out.Status.LastOperation = &lastop
	}
	return out
}

type CreateOptions struct {
	ResourceDetails
	Labels      map[string]string
	Annotations map[string]string
	Options     Document
	Status      *ResourceStatus
}

// UpdateOptions describes a merge update of a resource.
// Zero valued fields are left untouched.
type UpdateOptions struct {
	ResourceDetails
	// ResourceVersion makes the update conditional when set,
	// a mismatch fails with a Conflict.
	ResourceVersion string
	Labels          map[string]string
	// Annotations are merged, an empty value is written as is.
	Annotations map[string]string
	// Options replaces the options document when not nil.
	Options Document
	Status  *ResourceStatus
}
