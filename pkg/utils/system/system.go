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

package system

import (
	"github.com/spf13/pflag"
	"servicefabrik.io/broker/pkg/utils"
)

type Options struct {
	Listen  string `json:"listen,omitempty" description:"listen address"`
	TLSCert string `json:"tlsCert,omitempty" description:"tls cert file, serve plain http when empty"`
	TLSKey  string `json:"tlsKey,omitempty" description:"tls key file"`
	Pprof   string `json:"pprof,omitempty" description:"listen address of the debug pprof endpoints, disabled when empty"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Listen: ":9293",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, utils.JoinFlagName(prefix, "listen"), o.Listen, "listen address")
	fs.StringVar(&o.TLSCert, utils.JoinFlagName(prefix, "tlscert"), o.TLSCert, "tls cert file")
	fs.StringVar(&o.TLSKey, utils.JoinFlagName(prefix, "tlskey"), o.TLSKey, "tls key file")
	fs.StringVar(&o.Pprof, utils.JoinFlagName(prefix, "pprof"), o.Pprof, "listen address of the debug pprof endpoints, disabled when empty")
}
