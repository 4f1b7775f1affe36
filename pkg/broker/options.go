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
	"github.com/spf13/pflag"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/clients/bosh"
	"servicefabrik.io/broker/pkg/operator"
	"servicefabrik.io/broker/pkg/utils/redis"
	"servicefabrik.io/broker/pkg/utils/system"
)

// store backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKube   = "kube"
)

type Options struct {
	LogLevel  string            `json:"logLevel,omitempty" description:"log level, one of debug, info, warn, error"`
	Backend   string            `json:"backend,omitempty" description:"resource store, one of memory, redis, kube"`
	Namespace string            `json:"namespace,omitempty" description:"namespace of the kube resource store"`
	Flow      *FlowOptions      `json:"flow,omitempty"`
	Redis     *redis.Options    `json:"redis,omitempty"`
	Operator  *operator.Options `json:"operator,omitempty"`
	Bosh      *bosh.Options     `json:"bosh,omitempty"`
	System    *system.Options   `json:"system,omitempty"`
}

type FlowOptions struct {
	Definitions string `json:"definitions,omitempty" description:"flow definitions file, the built-in definitions when empty"`
	Schedules   string `json:"schedules,omitempty" description:"flow schedules file"`
}

func NewDefaultOptions() *Options {
	return &Options{
		LogLevel:  "info",
		Backend:   BackendMemory,
		Namespace: apiserver.Namespace,
		Flow:      &FlowOptions{},
		Redis:     redis.NewDefaultOptions(),
		Operator:  operator.NewDefaultOptions(),
		Bosh:      bosh.NewDefaultOptions(),
		System:    system.NewDefaultOptions(),
	}
}

func (o *Options) RegistFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "loglevel", o.LogLevel, "log level, one of debug, info, warn, error")
	fs.StringVar(&o.Backend, "backend", o.Backend, "resource store, one of memory, redis, kube")
	fs.StringVar(&o.Namespace, "namespace", o.Namespace, "namespace of the kube resource store")
	fs.StringVar(&o.Flow.Definitions, "flow-definitions", o.Flow.Definitions, "flow definitions file, the built-in definitions when empty")
	fs.StringVar(&o.Flow.Schedules, "flow-schedules", o.Flow.Schedules, "flow schedules file")
	o.Redis.RegistFlags("redis", fs)
	o.Operator.RegistFlags("operator", fs)
	o.Bosh.RegistFlags("bosh", fs)
	o.System.RegistFlags("system", fs)
}
