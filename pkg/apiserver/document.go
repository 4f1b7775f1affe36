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
	"strconv"

	"github.com/imdario/mergo"
)

// Document is a free form JSON object, such as the options of a resource
// or the response of a task.
type Document map[string]interface{}

// ParseDocument decodes a serialized document, the empty string is an empty document.
func ParseDocument(s string) (Document, error) {
	doc := Document{}
	if s == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (d Document) String() string {
	if d == nil {
		return ""
	}
	bts, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(bts)
}

// DeepCopy copies d through its JSON form, numbers come back as float64.
func (d Document) DeepCopy() Document {
	if d == nil {
		return nil
	}
	out, err := ParseDocument(d.String())
	if err != nil {
		return Document{}
	}
	return out
}

// Merge returns a copy of d with src deep merged into it, values of src win.
func (d Document) Merge(src Document) (Document, error) {
	dst := d.DeepCopy()
	if dst == nil {
		dst = Document{}
	}
	if err := mergo.Merge(&dst, src.DeepCopy(), mergo.WithOverride); err != nil {
		return nil, err
	}
	return dst, nil
}

func (d Document) GetString(key string) string {
	switch val := d[key].(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// GetInt reads key as an integer, accepting any JSON number or a numeric string.
func (d Document) GetInt(key string) (int, bool) {
	switch val := d[key].(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(val)
		return i, err == nil
	default:
		return 0, false
	}
}

func (d Document) GetDocument(key string) Document {
	switch val := d[key].(type) {
	case Document:
		return val
	case map[string]interface{}:
		return Document(val)
	default:
		return nil
	}
}
