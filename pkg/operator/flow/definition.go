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
	_ "embed"
	"fmt"
	"os"

	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/operator/task"
	"servicefabrik.io/broker/pkg/utils/set"
	"sigs.k8s.io/yaml"
)

//go:embed definitions.yaml
var defaultDefinitions []byte

// Definition is an ordered list of task templates.
type Definition struct {
	Description string               `json:"description"`
	Tasks       []apiserver.Document `json:"tasks"`
}

// Definitions maps flow names to their definition.
type Definitions map[string]Definition

// LoadDefinitions reads definitions from file, the built-in ones when file is empty.
func LoadDefinitions(file string) (Definitions, error) {
	data := defaultDefinitions
	if file != "" {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		data = content
	}
	return ParseDefinitions(data)
}

func ParseDefinitions(data []byte) (Definitions, error) {
	defs := Definitions{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse flow definitions: %w", err)
	}
	for name, def := range defs {
		if len(def.Tasks) == 0 {
			return nil, fmt.Errorf("flow %s has no tasks", name)
		}
		for i, tmpl := range def.Tasks {
			if tmpl.GetString(task.KeyTaskType) == "" || tmpl.GetString(task.KeyTaskDescription) == "" {
				return nil, fmt.Errorf("flow %s task %d needs %s and %s", name, i, task.KeyTaskType, task.KeyTaskDescription)
			}
		}
	}
	return defs, nil
}

// Validate checks every task type used is one of taskTypes.
func (d Definitions) Validate(taskTypes []string) error {
	known := set.NewSet(taskTypes...)
	for _, name := range d.Names() {
		for i, tmpl := range d[name].Tasks {
			if taskType := tmpl.GetString(task.KeyTaskType); !known.Has(taskType) {
				return fmt.Errorf("flow %s task %d: unknown task type %s", name, i, taskType)
			}
		}
	}
	return nil
}

func (d Definitions) Names() []string {
	names := set.NewSet[string]()
	for name := range d {
		names.Append(name)
	}
	return names.Slice()
}
