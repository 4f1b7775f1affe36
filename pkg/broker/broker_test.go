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

package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"servicefabrik.io/broker/pkg/apiserver/memory"
	redisstore "servicefabrik.io/broker/pkg/apiserver/redis"
)

func TestOptions_RegistFlags(t *testing.T) {
	options := NewDefaultOptions()
	fs := pflag.NewFlagSet("broker", pflag.ContinueOnError)
	options.RegistFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--backend=redis",
		"--redis-addr=127.0.0.1:6379",
		"--operator-locktimeout=1m",
		"--operator-concurrency=3",
		"--flow-definitions=flows.yaml",
		"--system-listen=:8080",
	}))
	assert.Equal(t, BackendRedis, options.Backend)
	assert.Equal(t, "127.0.0.1:6379", options.Redis.Addr)
	assert.Equal(t, time.Minute, options.Operator.LockTimeout)
	assert.Equal(t, 3, options.Operator.Concurrency)
	assert.Equal(t, "flows.yaml", options.Flow.Definitions)
	assert.Equal(t, ":8080", options.System.Listen)
}

func TestPrepareDependencies(t *testing.T) {
	ctx := context.Background()

	options := NewDefaultOptions()
	deps, err := prepareDependencies(ctx, options)
	require.NoError(t, err)
	assert.IsType(t, &memory.Client{}, deps.Store)
	assert.Nil(t, deps.Redis)
	assert.Contains(t, deps.Definitions, "blueprint_workflow")

	mr := miniredis.RunT(t)
	options = NewDefaultOptions()
	options.Backend = BackendRedis
	options.Redis.Addr = mr.Addr()
	deps, err = prepareDependencies(ctx, options)
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Client{}, deps.Store)
	require.NotNil(t, deps.Redis)
	deps.Redis.Close()

	options = NewDefaultOptions()
	options.Backend = BackendRedis
	_, err = prepareDependencies(ctx, options)
	assert.Error(t, err)

	options = NewDefaultOptions()
	options.Backend = "etcd"
	_, err = prepareDependencies(ctx, options)
	assert.Error(t, err)

	options = NewDefaultOptions()
	options.Flow.Definitions = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = prepareDependencies(ctx, options)
	assert.True(t, os.IsNotExist(err))
}

func TestRun(t *testing.T) {
	options := NewDefaultOptions()
	options.System.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- Run(ctx, options) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not stop")
	}
}

func TestRunInvalidDefinitions(t *testing.T) {
	file := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
broken:
  description: Broken
  tasks:
  - task_type: NoSuchTask
    task_description: never runs
`), 0o600))
	options := NewDefaultOptions()
	options.Flow.Definitions = file
	assert.Error(t, Run(context.Background(), options))
}
