// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package link

import "github.com/prometheus/client_golang/prometheus"

var linkState = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "link_state",
		Help:      "Link state (0: disconnected, 1: connecting, 2: connected).",
	},
)

var associations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "link_associations_total",
		Help:      "Total number of link association attempts.",
	}, []string{"result"},
)

func init() {
	prometheus.MustRegister(linkState)
	prometheus.MustRegister(associations)
}
