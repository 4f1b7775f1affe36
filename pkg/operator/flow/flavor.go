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

import "servicefabrik.io/broker/pkg/apiserver"

// Flavor binds the serial flow engine to a resource group and its option keys.
type Flavor struct {
	// Name is the plural used in the admin api path.
	Name string
	// Noun names a flow of this flavor in status descriptions.
	Noun          string
	ResourceGroup string
	ResourceType  string
	// NameKey is the option holding the definition name.
	NameKey string
	// IDKey labels tasks with their flow id.
	IDKey string
}

var WorkFlow = Flavor{
	Name:          "workflows",
	Noun:          "workflow",
	ResourceGroup: apiserver.GroupWorkflow,
	ResourceType:  apiserver.TypeSerialWorkflow,
	NameKey:       "workflow_name",
	IDKey:         "workflowId",
}

var ServiceFlow = Flavor{
	Name:          "serviceflows",
	Noun:          "serviceflow",
	ResourceGroup: apiserver.GroupServiceFlow,
	ResourceType:  apiserver.TypeSerialServiceFlow,
	NameKey:       "serviceflow_name",
	IDKey:         "serviceflow_id",
}

var Flavors = []Flavor{WorkFlow, ServiceFlow}
