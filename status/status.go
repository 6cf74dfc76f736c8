// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package status keeps rates of client activity and serves them over HTTP, together with
// the states of the components and the prometheus metrics.
package status

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/rcrowley/go-metrics"
)

var global = newStatusServer()

// StateFunc returns the current state of a component
type StateFunc func() string

type statusServer struct {
	mu         sync.RWMutex
	accessKeys []string
	components map[string]StateFunc

	messages metrics.Meter
	attempts metrics.Meter
	sessions metrics.Counter
}

func newStatusServer() *statusServer {
	return &statusServer{
		components: make(map[string]StateFunc),
		messages:   metrics.NewMeter(),
		attempts:   metrics.NewMeter(),
		sessions:   metrics.NewCounter(),
	}
}

func (s *statusServer) AddAccessKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessKeys = append(s.accessKeys, key)
}

// AddAccessKey adds a key that is accepted for status requests. Without keys, requests
// are not authenticated.
func AddAccessKey(key string) {
	global.AddAccessKey(key)
}

func (s *statusServer) AddComponent(name string, state StateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = state
}

// AddComponent adds a component whose state is reported by the default status server
func AddComponent(name string, state StateFunc) {
	global.AddComponent(name, state)
}

func (s *statusServer) Message() {
	s.messages.Mark(1)
}

// Message registers a received message in the default status server
func Message() {
	global.Message()
}

func (s *statusServer) Attempt() {
	s.attempts.Mark(1)
}

// Attempt registers a connection attempt in the default status server
func Attempt() {
	global.Attempt()
}

func (s *statusServer) ConnectSession() {
	s.sessions.Inc(1)
}

// ConnectSession registers an established session in the default status server
func ConnectSession() {
	global.ConnectSession()
}

func (s *statusServer) DisconnectSession() {
	s.sessions.Dec(1)
}

// DisconnectSession registers a closed session in the default status server
func DisconnectSession() {
	global.DisconnectSession()
}

// Rates of an event over the last 1, 5 and 15 minutes
type Rates struct {
	Count  int64   `json:"count"`
	Rate1  float64 `json:"rate_1"`
	Rate5  float64 `json:"rate_5"`
	Rate15 float64 `json:"rate_15"`
}

func rates(meter metrics.Meter) Rates {
	snapshot := meter.Snapshot()
	return Rates{
		Count:  snapshot.Count(),
		Rate1:  snapshot.Rate1(),
		Rate5:  snapshot.Rate5(),
		Rate15: snapshot.Rate15(),
	}
}

// Response to a status request
type Response struct {
	Components   map[string]string `json:"components"`
	Messages     Rates             `json:"messages"`
	Attempts     Rates             `json:"attempts"`
	LiveSessions int64             `json:"live_sessions"`
}

func (s *statusServer) getStatus() *Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := &Response{
		Components:   make(map[string]string, len(s.components)),
		Messages:     rates(s.messages),
		Attempts:     rates(s.attempts),
		LiveSessions: s.sessions.Snapshot().Count(),
	}
	for name, state := range s.components {
		status.Components[name] = state()
	}
	return status
}

func (s *statusServer) authorized(r *http.Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.accessKeys) == 0 {
		return true
	}
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Key ")
	for _, allowed := range s.accessKeys {
		if key == allowed {
			return true
		}
	}
	return false
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.getStatus())
}

func (s *statusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", s)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Handler returns the handler of the default status server. It serves the status on
// /status and the prometheus metrics on /metrics.
func Handler() http.Handler {
	return global.Handler()
}
