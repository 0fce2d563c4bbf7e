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

package commission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type commissionMetrics struct {
	envelopesSigned prometheus.Counter
	accountsClaimed prometheus.Counter
	replayed        prometheus.Counter
	rejected        *prometheus.CounterVec
}

func newCommissionMetrics(promRegistry prometheus.Registerer) *commissionMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &commissionMetrics{
		envelopesSigned: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_commission_envelopes_signed_total",
				Help: "envelopes signed for voters",
			},
		),
		accountsClaimed: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_commission_accounts_claimed_total",
				Help: "pooled accounts handed out to voters",
			},
		),
		replayed: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "devote_commission_replays_total",
				Help: "account requests answered from a stored transaction",
			},
		),
		rejected: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devote_commission_rejections_total",
				Help: "commission requests rejected, by reason",
			},
			[]string{"reason"},
		),
	}
}
