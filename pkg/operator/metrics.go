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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "broker"

// Registry holds the broker metrics, served on /metrics.
var Registry = prometheus.NewRegistry()

// outcomes of a dispatched event
const (
	OutcomeProcessed = "processed"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
	OutcomeHeld      = "held"
	OutcomeSkipped   = "skipped"
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "operator",
		Name:      "events_total",
		Help:      "Resource events dispatched, by outcome.",
	}, []string{"group", "type", "outcome"})

	watchRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "operator",
		Name:      "watch_restarts_total",
		Help:      "Watch re-registrations, by reason.",
	}, []string{"group", "type", "reason"})

	// PollersGauge counts running status pollers.
	PollersGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "operator",
		Name:      "pollers",
		Help:      "Running task status pollers.",
	}, []string{"group"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		eventsTotal,
		watchRestartsTotal,
		PollersGauge,
	)
}
