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
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var kinds = map[string]string{
	TypeSerialWorkflow:    "SerialWorkflow",
	TypeSerialServiceFlow: "SerialServiceFlow",
	TypeTask:              "Task",
	TypeDefaultBackup:     "DefaultBackup",
	TypeDirector:          "Director",
}

// KindForResourceType returns the kind of a resource type, "tasks" is "Task".
func KindForResourceType(resourceType string) string {
	if kind, ok := kinds[resourceType]; ok {
		return kind
	}
	singular := strings.TrimSuffix(resourceType, "s")
	if singular == "" {
		return ""
	}
	return strings.ToUpper(singular[:1]) + singular[1:]
}

func ResourceTypeForKind(kind string) string {
	for resourceType, k := range kinds {
		if k == kind {
			return resourceType
		}
	}
	return strings.ToLower(kind) + "s"
}

// NewUnstructured renders the wire form of a resource to create.
func NewUnstructured(namespace string, opts CreateOptions) *unstructured.Unstructured {
	u := &unstructured.Unstructured{Object: map[string]interface{}{}}
	u.SetAPIVersion(schema.GroupVersion{Group: opts.ResourceGroup, Version: APIVersion}.String())
	u.SetKind(KindForResourceType(opts.ResourceType))
	u.SetName(opts.ResourceID)
	u.SetNamespace(namespace)

	lbs := map[string]string{}
	for k, v := range opts.Labels {
		lbs[k] = v
	}
	if opts.Status != nil && opts.Status.State != "" {
		lbs[LabelState] = opts.Status.State
	}
	if len(lbs) > 0 {
		u.SetLabels(lbs)
	}
	if len(opts.Annotations) > 0 {
		u.SetAnnotations(opts.Annotations)
	}

	options := opts.Options
	if options == nil {
		options = Document{}
	}
	u.Object["spec"] = map[string]interface{}{"options": options.String()}
	if opts.Status != nil {
		if status := statusToWire(*opts.Status); len(status) > 0 {
			u.Object["status"] = status
		}
	}
	return u
}

// FromUnstructured decodes the wire form of a resource.
func FromUnstructured(u *unstructured.Unstructured) (*ManagedResource, error) {
	res := &ManagedResource{}
	res.APIVersion = u.GetAPIVersion()
	res.Kind = u.GetKind()
	res.Name = u.GetName()
	res.Namespace = u.GetNamespace()
	res.UID = u.GetUID()
	res.ResourceVersion = u.GetResourceVersion()
	res.Generation = u.GetGeneration()
	res.CreationTimestamp = u.GetCreationTimestamp()
	res.Labels = u.GetLabels()
	res.Annotations = u.GetAnnotations()

	gv, err := schema.ParseGroupVersion(res.APIVersion)
	if err != nil {
		return nil, err
	}
	res.SelfLink = SelfLink(res.Namespace, ResourceDetails{
		ResourceGroup: gv.Group,
		ResourceType:  ResourceTypeForKind(res.Kind),
		ResourceID:    res.Name,
	})

	options, err := stringOrJSON(u.Object, "spec", "options")
	if err != nil {
		return nil, err
	}
	res.Spec.Options = options

	status, _, _ := unstructured.NestedMap(u.Object, "status")
	res.Status.State, _ = status["state"].(string)
	res.Status.Description, _ = status["description"].(string)

	response, err := stringOrJSON(u.Object, "status", "response")
	if err != nil {
		return nil, err
	}
	if response != "" {
		if res.Status.Response, err = ParseDocument(response); err != nil {
			return nil, fmt.Errorf("resource %s status.response: %w", res.Name, err)
		}
	}
	lastOperation, err := stringOrJSON(u.Object, "status", "lastOperation")
	if err != nil {
		return nil, err
	}
	if lastOperation != "" {
		res.Status.LastOperation = &LastOperation{}
		if err := json.Unmarshal([]byte(lastOperation), res.Status.LastOperation); err != nil {
			return nil, fmt.Errorf("resource %s status.lastOperation: %w", res.Name, err)
		}
	}
	return res, nil
}

// stringOrJSON reads a field that is stored as a JSON string,
// tolerating an embedded object written by other clients.
func stringOrJSON(obj map[string]interface{}, fields ...string) (string, error) {
	val, found, err := unstructured.NestedFieldNoCopy(obj, fields...)
	if err != nil || !found || val == nil {
		return "", err
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	bts, err := json.Marshal(val)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", strings.Join(fields, "."), err)
	}
	return string(bts), nil
}

func statusToWire(status ResourceStatus) map[string]interface{} {
	out := map[string]interface{}{}
	if status.State != "" {
		out["state"] = status.State
	}
	if status.Description != "" {
		out["description"] = status.Description
	}
	if status.Response != nil {
		out["response"] = status.Response.String()
	}
	if status.LastOperation != nil {
		bts, _ := json.Marshal(status.LastOperation)
		out["lastOperation"] = string(bts)
	}
	return out
}

// MergePatch renders opts as a JSON merge patch of the wire form.
// The resource version, when set, rides in the patch as the precondition.
func MergePatch(opts UpdateOptions) ([]byte, error) {
	patch := map[string]interface{}{}
	metadata := map[string]interface{}{}
	if opts.ResourceVersion != "" {
		metadata["resourceVersion"] = opts.ResourceVersion
	}
	lbs := map[string]interface{}{}
	for k, v := range opts.Labels {
		lbs[k] = v
	}
	if opts.Status != nil && opts.Status.State != "" {
		lbs[LabelState] = opts.Status.State
	}
	if len(lbs) > 0 {
		metadata["labels"] = lbs
	}
	if len(opts.Annotations) > 0 {
		annotations := map[string]interface{}{}
		for k, v := range opts.Annotations {
			annotations[k] = v
		}
		metadata["annotations"] = annotations
	}
	if len(metadata) > 0 {
		patch["metadata"] = metadata
	}
	if opts.Options != nil {
		patch["spec"] = map[string]interface{}{"options": opts.Options.String()}
	}
	if opts.Status != nil {
		if status := statusToWire(*opts.Status); len(status) > 0 {
			patch["status"] = status
		}
	}
	return json.Marshal(patch)
}

// ApplyMergePatch applies a merge patch to a copy of u.
// A resource version carried by the patch must match the one of u.
func ApplyMergePatch(u *unstructured.Unstructured, patch []byte) (*unstructured.Unstructured, error) {
	gr := schema.GroupResource{Group: u.GroupVersionKind().Group, Resource: ResourceTypeForKind(u.GetKind())}

	precondition := struct {
		Metadata struct {
			ResourceVersion string `json:"resourceVersion"`
		} `json:"metadata"`
	}{}
	if err := json.Unmarshal(patch, &precondition); err != nil {
		return nil, apierrors.NewBadRequest(err.Error())
	}
	if rv := precondition.Metadata.ResourceVersion; rv != "" && rv != u.GetResourceVersion() {
		return nil, apierrors.NewConflict(gr, u.GetName(),
			fmt.Errorf("the object has been modified, resource version %s is not %s", rv, u.GetResourceVersion()))
	}

	original, err := u.MarshalJSON()
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, apierrors.NewBadRequest(err.Error())
	}
	out := &unstructured.Unstructured{}
	if err := out.UnmarshalJSON(merged); err != nil {
		return nil, err
	}
	return out, nil
}
