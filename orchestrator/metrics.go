// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var sessionsLive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "sessions_live",
		Help:      "Number of secure sessions to the broker that are currently open.",
	},
)

var attempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "connection_attempts_total",
		Help:      "Total number of connection attempts by the stage at which they ended and the result.",
	}, []string{"stage", "result"},
)

func init() {
	prometheus.MustRegister(sessionsLive)
	prometheus.MustRegister(attempts)
}
