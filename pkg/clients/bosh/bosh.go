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
	"crypto/tls"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/utils"
	"servicefabrik.io/broker/pkg/version"
)

type Options struct {
	Addr          string        `json:"addr,omitempty" description:"bosh director address"`
	Username      string        `json:"username,omitempty" description:"bosh director username"`
	Password      string        `json:"password,omitempty" description:"bosh director password"`
	SkipTLSVerify bool          `json:"skipTLSVerify,omitempty" description:"skip verifying the bosh director certificate"`
	Timeout       time.Duration `json:"timeout,omitempty" description:"timeout of bosh director requests"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Addr:    "https://192.168.50.6:25555",
		Timeout: 30 * time.Second,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "bosh director address")
	fs.StringVar(&o.Username, utils.JoinFlagName(prefix, "username"), o.Username, "bosh director username")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "bosh director password")
	fs.BoolVar(&o.SkipTLSVerify, utils.JoinFlagName(prefix, "skiptlsverify"), o.SkipTLSVerify, "skip verifying the bosh director certificate")
	fs.DurationVar(&o.Timeout, utils.JoinFlagName(prefix, "timeout"), o.Timeout, "timeout of bosh director requests")
}

// bosh task states
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskDone       = "done"
	TaskError      = "error"
	TaskCancelled  = "cancelled"
	TaskCancelling = "cancelling"
	TaskTimeout    = "timeout"
)

type Task struct {
	ID          int    `json:"id"`
	State       string `json:"state"`
	Description string `json:"description"`
	Result      string `json:"result"`
	Deployment  string `json:"deployment"`
	Timestamp   int64  `json:"timestamp"`
}

// OperationState maps the task state to an operation outcome.
func (t Task) OperationState() string {
	switch t.State {
	case TaskDone:
		return apiserver.OperationSucceeded
	case TaskError, TaskTimeout:
		return apiserver.OperationFailed
	case TaskCancelled:
		return apiserver.OperationAborted
	default:
		return apiserver.OperationInProgress
	}
}

// Instance selects the instances an errand runs on.
type Instance struct {
	Group string `json:"group"`
	ID    string `json:"id,omitempty"`
}

type Client struct {
	*resty.Client
}

func NewClient(opts *Options) *Client {
	cli := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.Addr, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", version.Get().UserAgent()).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			// the location of a started task is all we need
			return http.ErrUseLastResponse
		}))
	if opts.Username != "" {
		cli.SetBasicAuth(opts.Username, opts.Password)
	}
	if opts.SkipTLSVerify {
		cli.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // nolint: gosec
	}
	return &Client{Client: cli}
}

// RunErrand starts errand on deployment and returns the id of its bosh task,
// prefixed with the deployment name.
func (c *Client) RunErrand(ctx context.Context, deployment, errand string, instances []Instance) (string, error) {
	if instances == nil {
		instances = []Instance{}
	}
	resp, err := c.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"keep-alive": true, "instances": instances}).
		SetPathParams(map[string]string{"deployment": deployment, "errand": errand}).
		Post("/deployments/{deployment}/errands/{errand}/runs")
	if err != nil {
		return "", errors.Wrapf(err, "run errand %s on %s", errand, deployment)
	}
	if resp.StatusCode() != http.StatusFound {
		return "", statusError(resp, "errand", errand)
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return "", errors.Errorf("run errand %s on %s: no task location returned", errand, deployment)
	}
	return TaskID(deployment, path.Base(location)), nil
}

// GetTask reads a task by the id RunErrand returned.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	_, id, err := ParseTaskID(taskID)
	if err != nil {
		return nil, err
	}
	task := &Task{}
	resp, err := c.R().
		SetContext(ctx).
		SetResult(task).
		SetPathParam("id", strconv.Itoa(id)).
		Get("/tasks/{id}")
	if err != nil {
		return nil, errors.Wrapf(err, "get task %s", taskID)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp, "task", taskID)
	}
	return task, nil
}

func TaskID(deployment, id string) string {
	return deployment + "_" + id
}

// ParseTaskID splits a task id at its last underscore.
func ParseTaskID(taskID string) (string, int, error) {
	i := strings.LastIndex(taskID, "_")
	if i <= 0 {
		return "", 0, apierrors.NewBadRequest(fmt.Sprintf("task id %q is not <deployment>_<id>", taskID))
	}
	id, err := strconv.Atoi(taskID[i+1:])
	if err != nil {
		return "", 0, apierrors.NewBadRequest(fmt.Sprintf("task id %q is not <deployment>_<id>", taskID))
	}
	return taskID[:i], id, nil
}

var boshResource = schema.GroupResource{Group: "bosh", Resource: "tasks"}

func statusError(resp *resty.Response, kind, name string) error {
	if resp.StatusCode() == http.StatusNotFound {
		return apierrors.NewNotFound(boshResource, name)
	}
	return errors.Errorf("bosh %s %s: unexpected status %s: %s", kind, name, resp.Status(), strings.TrimSpace(resp.String()))
}
