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

package operator

import (
	"time"

	"github.com/spf13/pflag"
	"servicefabrik.io/broker/pkg/utils"
)

type Options struct {
	Identity                   string        `json:"identity,omitempty" description:"owner name written into processing locks"`
	LockTimeout                time.Duration `json:"lockTimeout,omitempty" description:"age after which a processing lock may be taken over"`
	WatchRefreshInterval       time.Duration `json:"watchRefreshInterval,omitempty" description:"interval to re-register resource watches"`
	PollerWatchRefreshInterval time.Duration `json:"pollerWatchRefreshInterval,omitempty" description:"interval to re-register watches of polled and relayed tasks"`
	WatchErrorDelay            time.Duration `json:"watchErrorDelay,omitempty" description:"delay before re-registering a failed watch or releasing a resource its handler failed on"`
	PollInterval               time.Duration `json:"pollInterval,omitempty" description:"interval between two status polls of a running task"`
	Concurrency                int           `json:"concurrency,omitempty" description:"events handled concurrently per watch"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Identity:                   utils.Hostname("broker"),
		LockTimeout:                5 * time.Minute,
		WatchRefreshInterval:       60 * time.Second,
		PollerWatchRefreshInterval: 120 * time.Second,
		WatchErrorDelay:            30 * time.Second,
		PollInterval:               50 * time.Second,
		Concurrency:                5,
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Identity, utils.JoinFlagName(prefix, "identity"), o.Identity, "owner name written into processing locks")
	fs.DurationVar(&o.LockTimeout, utils.JoinFlagName(prefix, "locktimeout"), o.LockTimeout, "age after which a processing lock may be taken over")
	fs.DurationVar(&o.WatchRefreshInterval, utils.JoinFlagName(prefix, "watchrefreshinterval"), o.WatchRefreshInterval, "interval to re-register resource watches")
	fs.DurationVar(&o.PollerWatchRefreshInterval, utils.JoinFlagName(prefix, "pollerwatchrefreshinterval"), o.PollerWatchRefreshInterval, "interval to re-register watches of polled and relayed tasks")
	fs.DurationVar(&o.WatchErrorDelay, utils.JoinFlagName(prefix, "watcherrordelay"), o.WatchErrorDelay, "delay before re-registering a failed watch or releasing a resource its handler failed on")
	fs.DurationVar(&o.PollInterval, utils.JoinFlagName(prefix, "pollinterval"), o.PollInterval, "interval between two status polls of a running task")
	fs.IntVar(&o.Concurrency, utils.JoinFlagName(prefix, "concurrency"), o.Concurrency, "events handled concurrently per watch")
}
