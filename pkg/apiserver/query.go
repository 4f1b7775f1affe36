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
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
)

// SelfLink is the path of a resource on the store,
// /apis/<group>/<version>/namespaces/<namespace>/<type>/<id>.
func SelfLink(namespace string, details ResourceDetails) string {
	return fmt.Sprintf("/apis/%s/%s/namespaces/%s/%s/%s",
		details.ResourceGroup, APIVersion, namespace, details.ResourceType, details.ResourceID)
}

func ParseResourceDetailsFromSelfLink(selfLink string) (ResourceDetails, error) {
	parts := strings.Split(selfLink, "/")
	if len(parts) != 8 || parts[1] != "apis" || parts[4] != "namespaces" {
		return ResourceDetails{}, apierrors.NewBadRequest(fmt.Sprintf("invalid self link %q", selfLink))
	}
	return ResourceDetails{
		ResourceGroup: parts[2],
		ResourceType:  parts[6],
		ResourceID:    parts[7],
	}, nil
}

// StateQuery renders the watch query selecting resources in one of states.
func StateQuery(states ...string) string {
	return fmt.Sprintf("%s in (%s)", LabelState, strings.Join(states, ","))
}

// ParseSelector parses a label selector query, the empty query selects everything.
func ParseSelector(query string) (labels.Selector, error) {
	if query == "" {
		return labels.Everything(), nil
	}
	selector, err := labels.Parse(query)
	if err != nil {
		return nil, apierrors.NewBadRequest(fmt.Sprintf("invalid query %q: %v", query, err))
	}
	return selector, nil
}
