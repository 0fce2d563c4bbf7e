// Copyright 2025 Blink Labs Software
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

package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type provisionMetrics struct {
	provisioned prometheus.Counter
	failures    *prometheus.CounterVec
	duration    prometheus.Histogram
}

func newProvisionMetrics(promRegistry prometheus.Registerer) *provisionMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &provisionMetrics{
		provisioned: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_provision_votings_total",
				Help: "votings provisioned completely",
			},
		),
		failures: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devote_provision_failures_total",
				Help: "provisioning failures by stage",
			},
			[]string{"stage"},
		),
		duration: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devote_provision_run_seconds",
				Help:    "duration of background provisioning runs",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}
}
