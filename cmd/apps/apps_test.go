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

package apps

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewGenConfigCmd(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewGenConfigCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	cfg := map[string]interface{}{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, "memory", cfg["backend"])
	operator, ok := cfg["operator"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "5m0s", operator["locktimeout"])
}

func TestNewOperatorCmdFlags(t *testing.T) {
	cmd := NewOperatorCmd()
	for _, name := range []string{"backend", "operator-locktimeout", "operator-pollinterval", "redis-addr", "bosh-addr", "flow-definitions", "system-listen"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
