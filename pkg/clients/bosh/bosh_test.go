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

package bosh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/apiserver"
)

func newTestDirector(t *testing.T) *Client {
	mux := http.NewServeMux()
	mux.HandleFunc("/deployments/service-fabrik-0021/errands/smoke-tests/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		user, pass, _ := r.BasicAuth()
		if user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body := map[string]interface{}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["keep-alive"] != true {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Location", "/tasks/42")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/tasks/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Task{ID: 42, State: TaskDone, Deployment: "service-fabrik-0021", Result: "1 succeeded"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts := NewDefaultOptions()
	opts.Addr = srv.URL
	opts.Username, opts.Password = "admin", "secret"
	return NewClient(opts)
}

func TestClient_RunErrand(t *testing.T) {
	cli := newTestDirector(t)
	ctx := context.Background()

	taskID, err := cli.RunErrand(ctx, "service-fabrik-0021", "smoke-tests", nil)
	require.NoError(t, err)
	assert.Equal(t, "service-fabrik-0021_42", taskID)

	_, err = cli.RunErrand(ctx, "service-fabrik-0021", "unknown", nil)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestClient_GetTask(t *testing.T) {
	cli := newTestDirector(t)
	ctx := context.Background()

	task, err := cli.GetTask(ctx, "service-fabrik-0021_42")
	require.NoError(t, err)
	assert.Equal(t, TaskDone, task.State)
	assert.Equal(t, apiserver.OperationSucceeded, task.OperationState())

	_, err = cli.GetTask(ctx, "service-fabrik-0021_43")
	assert.True(t, apierrors.IsNotFound(err))

	_, err = cli.GetTask(ctx, "42")
	assert.True(t, apierrors.IsBadRequest(err))
}

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		taskID     string
		deployment string
		id         int
		wantErr    bool
	}{
		{taskID: "dep_1", deployment: "dep", id: 1},
		{taskID: "service_fabrik_0021_42", deployment: "service_fabrik_0021", id: 42},
		{taskID: "_42", wantErr: true},
		{taskID: "dep_x", wantErr: true},
		{taskID: "dep", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.taskID, func(t *testing.T) {
			deployment, id, err := ParseTaskID(tt.taskID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTaskID() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.deployment, deployment)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestTask_OperationState(t *testing.T) {
	for state, want := range map[string]string{
		TaskQueued:     apiserver.OperationInProgress,
		TaskProcessing: apiserver.OperationInProgress,
		TaskCancelling: apiserver.OperationInProgress,
		TaskDone:       apiserver.OperationSucceeded,
		TaskError:      apiserver.OperationFailed,
		TaskCancelled:  apiserver.OperationAborted,
		TaskTimeout:    apiserver.OperationFailed,
	} {
		assert.Equal(t, want, Task{State: state}.OperationState(), state)
	}
}
