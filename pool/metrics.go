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

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	accountsCreated prometheus.Counter
	batchFailures   prometheus.Counter
	poolsCompleted  prometheus.Counter
	passDuration    prometheus.Histogram
}

func newPoolMetrics(promRegistry prometheus.Registerer) *poolMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &poolMetrics{
		accountsCreated: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_pool_accounts_created_total",
				Help: "pooled accounts created",
			},
		),
		batchFailures: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_pool_batch_failures_total",
				Help: "pool batches that stopped on an error",
			},
		),
		poolsCompleted: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_pool_completed_total",
				Help: "issuer pools whose accounts are all created",
			},
		),
		passDuration: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devote_pool_pass_seconds",
				Help:    "duration of pool batch passes",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
	}
}
