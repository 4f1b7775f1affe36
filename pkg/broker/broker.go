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
	"crypto/tls"
	"fmt"

	"github.com/go-logr/logr"
	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"servicefabrik.io/broker/pkg/api"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/apiserver/kube"
	"servicefabrik.io/broker/pkg/apiserver/memory"
	redisstore "servicefabrik.io/broker/pkg/apiserver/redis"
	"servicefabrik.io/broker/pkg/clients/bosh"
	"servicefabrik.io/broker/pkg/log"
	"servicefabrik.io/broker/pkg/operator"
	"servicefabrik.io/broker/pkg/operator/flow"
	"servicefabrik.io/broker/pkg/operator/task"
	"servicefabrik.io/broker/pkg/scheduler"
	"servicefabrik.io/broker/pkg/tasks"
	"servicefabrik.io/broker/pkg/utils/pprof"
	"servicefabrik.io/broker/pkg/utils/redis"
	"servicefabrik.io/broker/pkg/utils/system"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

type Dependencies struct {
	Store       apiserver.Client
	Redis       *redis.Client
	Definitions flow.Definitions
	Schedules   []scheduler.Schedule
}

func prepareDependencies(ctx context.Context, options *Options) (*Dependencies, error) {
	deps := &Dependencies{}
	// redis
	if options.Redis.Enabled() {
		rediscli, err := redis.NewClient(ctx, options.Redis)
		if err != nil {
			return nil, err
		}
		deps.Redis = rediscli
	}
	// store
	store, err := NewStore(options, deps.Redis)
	if err != nil {
		return nil, err
	}
	deps.Store = store
	// flows
	if deps.Definitions, err = flow.LoadDefinitions(options.Flow.Definitions); err != nil {
		return nil, err
	}
	if deps.Schedules, err = scheduler.LoadSchedules(options.Flow.Schedules); err != nil {
		return nil, err
	}
	return deps, nil
}

// NewStore builds the resource store of the configured backend.
func NewStore(options *Options, rediscli *redis.Client) (apiserver.Client, error) {
	switch options.Backend {
	case BackendMemory:
		return memory.NewClient(), nil
	case BackendRedis:
		if rediscli == nil {
			return nil, fmt.Errorf("backend %s needs --redis-addr", BackendRedis)
		}
		return redisstore.NewClient(rediscli.Client), nil
	case BackendKube:
		cfg, err := config.GetConfig()
		if err != nil {
			return nil, err
		}
		return kube.NewClient(cfg, options.Namespace)
	default:
		return nil, fmt.Errorf("unknown backend %q", options.Backend)
	}
}

func Run(ctx context.Context, options *Options) error {
	log.SetLevel(options.LogLevel)
	ctx = logr.NewContext(ctx, log.LogrLogger)

	deps, err := prepareDependencies(ctx, options)
	if err != nil {
		return err
	}
	if deps.Redis != nil {
		defer deps.Redis.Close()
	}

	registry := task.NewRegistry()
	tasks.Register(registry, deps.Store, bosh.NewClient(options.Bosh))
	if err := deps.Definitions.Validate(registry.Types()); err != nil {
		return err
	}

	var tlsConfig *tls.Config
	if options.System.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(options.System.TLSCert, options.System.TLSKey)
		if err != nil {
			return err
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	op := operator.New(deps.Store, options.Operator)
	eg, ctx := errgroup.WithContext(ctx)

	submitters := map[string]scheduler.Submitter{}
	flows := []api.Flow{}
	for _, flavor := range flow.Flavors {
		coordinator := flow.NewCoordinator(op, flavor, deps.Definitions)
		runner := task.NewRunner(op, registry, flavor.ResourceGroup)
		eg.Go(func() error {
			return coordinator.Run(ctx)
		})
		eg.Go(func() error {
			return runner.Run(ctx)
		})
		submitters[flavor.Name] = coordinator
		flows = append(flows, api.Flow{Flavor: flavor, Submitter: coordinator})
	}

	var rediscli *goredis.Client
	if deps.Redis != nil {
		rediscli = deps.Redis.Client
	}
	sched := scheduler.New(deps.Schedules, submitters, rediscli)
	eg.Go(func() error {
		return sched.Run(ctx)
	})

	eg.Go(func() error {
		return pprof.Run(ctx, options.System.Pprof)
	})

	handler := api.NewHandler(deps.Store, flows...).Router()
	eg.Go(func() error {
		return system.ListenAndServeContext(ctx, options.System.Listen, tlsConfig, handler)
	})
	return eg.Wait()
}
