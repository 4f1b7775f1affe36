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

package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/robfig/cron/v3"
	"servicefabrik.io/broker/pkg/apiserver"
	"sigs.k8s.io/yaml"
)

const LockName = "broker-scheduler-lock"

// Schedule submits the flow Flow of flavor Flavor on every tick of Cron.
type Schedule struct {
	Name    string             `json:"name"`
	Cron    string             `json:"cron"`
	Flavor  string             `json:"flavor"`
	Flow    string             `json:"flow"`
	Options apiserver.Document `json:"options,omitempty"`
}

// Submitter starts flows by definition name.
type Submitter interface {
	Submit(ctx context.Context, name string, options apiserver.Document) (*apiserver.ManagedResource, error)
}

// LoadSchedules reads a schedule list, no file means no schedules.
func LoadSchedules(file string) ([]Schedule, error) {
	if file == "" {
		return nil, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	schedules := []Schedule{}
	if err := yaml.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("parse schedules %s: %w", file, err)
	}
	return schedules, nil
}

type Scheduler struct {
	Schedules []Schedule
	// Submitters maps flavor names to the flows they submit.
	Submitters map[string]Submitter
	// Redis elects a single scheduling replica when set.
	Redis      *redis.Client
	LockExpiry time.Duration
}

func New(schedules []Schedule, submitters map[string]Submitter, rediscli *redis.Client) *Scheduler {
	return &Scheduler{
		Schedules:  schedules,
		Submitters: submitters,
		Redis:      rediscli,
		LockExpiry: 30 * time.Second,
	}
}

func (s *Scheduler) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, sch := range s.Schedules {
		if _, ok := s.Submitters[sch.Flavor]; !ok {
			return fmt.Errorf("schedule %s: unknown flavor %q", sch.Name, sch.Flavor)
		}
		if _, err := parser.Parse(sch.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", sch.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("scheduler")
	ctx = logr.NewContext(ctx, log)

	if err := s.Validate(); err != nil {
		return err
	}
	if len(s.Schedules) == 0 {
		log.Info("no schedules configured")
		<-ctx.Done()
		return nil
	}
	if s.Redis == nil {
		return s.runSchedules(ctx)
	}
	return s.runWithLock(ctx)
}

// runWithLock runs the schedules only while this replica holds the redis
// lock, other replicas keep waiting for it.
func (s *Scheduler) runWithLock(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	rs := redsync.New(goredis.NewPool(s.Redis))
	mutex := rs.NewMutex(LockName, redsync.WithExpiry(s.LockExpiry), redsync.WithTries(1))

	for {
		if err := mutex.LockContext(ctx); err != nil {
			log.V(5).Info("scheduler lock not acquired", "reason", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.LockExpiry / 3):
				continue
			}
		}
		log.Info("scheduler lock acquired")

		lockctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- s.runSchedules(lockctx) }()

		ticker := time.NewTicker(s.LockExpiry / 3)
	extend:
		for {
			select {
			case <-ctx.Done():
				break extend
			case err := <-done:
				ticker.Stop()
				cancel()
				_, _ = mutex.UnlockContext(context.Background())
				return err
			case <-ticker.C:
				if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
					log.Info("scheduler lock lost", "err", err)
					break extend
				}
			}
		}
		ticker.Stop()
		cancel()
		if err := <-done; err != nil {
			return err
		}
		if ctx.Err() != nil {
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				log.Error(err, "release scheduler lock")
			}
			return nil
		}
	}
}

func (s *Scheduler) runSchedules(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	crontab := cron.New()
	for _, sch := range s.Schedules {
		sch := sch
		submitter := s.Submitters[sch.Flavor]
		log := log.WithValues("schedule", sch.Name, "cron", sch.Cron, "flow", sch.Flow)
		if _, err := crontab.AddFunc(sch.Cron, func() {
			flow, err := submitter.Submit(ctx, sch.Flow, sch.Options)
			if err != nil {
				log.Error(err, "submit scheduled flow")
				return
			}
			log.Info("scheduled flow submitted", "id", flow.Name)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", sch.Name, err)
		}
		log.Info("register schedule")
	}
	crontab.Start()
	<-ctx.Done()
	<-crontab.Stop().Done()
	return nil
}
