// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import "github.com/prometheus/client_golang/prometheus"

var connectResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "broker_connect_failures_total",
		Help:      "Total number of failed broker connects.",
	}, []string{"reason"},
)

var receiveErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "receive_errors_total",
		Help:      "Total number of failed receives.",
	}, []string{"reason"},
)

var messagesReceived = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ttn",
		Subsystem: "client",
		Name:      "messages_received_total",
		Help:      "Total number of messages received.",
	},
)

func init() {
	prometheus.MustRegister(connectResults)
	prometheus.MustRegister(receiveErrors)
	prometheus.MustRegister(messagesReceived)
}
