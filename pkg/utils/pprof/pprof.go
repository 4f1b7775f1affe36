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

package pprof

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/go-logr/logr"
	"servicefabrik.io/broker/pkg/utils/system"
)

// NewHandler serves the runtime profiles and expvars under /debug/.
func NewHandler() http.Handler {
	// a private mux keeps the profiles off the default one
	m := http.NewServeMux()
	m.Handle("/debug/vars", expvar.Handler())
	m.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	m.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	m.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	m.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	m.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	return m
}

// Run serves the debug endpoints on listen until ctx is done, an empty
// listen address disables them.
func Run(ctx context.Context, listen string) error {
	log := logr.FromContextOrDiscard(ctx).WithName("pprof")
	if listen == "" {
		log.V(5).Info("debug pprof disabled")
		<-ctx.Done()
		return nil
	}
	log.Info("debug pprof listen", "addr", listen)
	return system.ListenAndServeContext(logr.NewContext(ctx, log), listen, nil, NewHandler())
}
