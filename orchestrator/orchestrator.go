// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package orchestrator supervises the connection to the broker.
//
// The Orchestrator waits until the network is ready (link up and address assigned),
// then keeps building a secure session and running an application session on top of
// it. When an attempt ends for any recoverable reason, everything is torn down and the
// next attempt starts from the DNS lookup after AttemptDelay. Fatal errors end Run.
package orchestrator

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/connector-client/netstack"
	"github.com/TheThingsNetwork/connector-client/secure"
	"github.com/TheThingsNetwork/connector-client/session"
	"github.com/TheThingsNetwork/connector-client/status"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

var (
	// PollInterval is the interval at which network readiness is checked
	PollInterval = 500 * time.Millisecond
	// AttemptDelay is the pause before every connection attempt
	AttemptDelay = time.Second
)

// State of the Orchestrator
type State int32

// Orchestrator states
const (
	StateAwaitingLink State = iota
	StateAwaitingAddress
	StateReady
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingLink:
		return "AwaitingLink"
	case StateAwaitingAddress:
		return "AwaitingAddress"
	case StateReady:
		return "Ready"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	}
	return "Stopped"
}

// SessionBuilder builds secure sessions
type SessionBuilder interface {
	Build(ctx context.Context) (*secure.Session, error)
}

// SessionRunner runs an application session over a stream
type SessionRunner interface {
	Run(ctx context.Context, stream net.Conn) error
}

// Orchestrator of the connection
type Orchestrator struct {
	ctx     log.Interface
	stack   netstack.Stack
	builder SessionBuilder
	runner  SessionRunner

	state    int32
	attempts uint64
	live     int32
}

// New returns a new Orchestrator
func New(stack netstack.Stack, builder SessionBuilder, runner SessionRunner, ctx log.Interface) *Orchestrator {
	return &Orchestrator{
		ctx:     ctx.WithField("Component", "Orchestrator"),
		stack:   stack,
		builder: builder,
		runner:  runner,
	}
}

// State returns the current state
func (o *Orchestrator) State() State {
	return State(atomic.LoadInt32(&o.state))
}

func (o *Orchestrator) setState(state State) {
	if State(atomic.SwapInt32(&o.state, int32(state))) != state {
		o.ctx.WithField("State", state).Debug("State changed")
	}
}

// Attempts returns the number of connection attempts that were started
func (o *Orchestrator) Attempts() uint64 {
	return atomic.LoadUint64(&o.attempts)
}

// LiveSessions returns the number of secure sessions currently open by the Orchestrator
func (o *Orchestrator) LiveSessions() int {
	return int(atomic.LoadInt32(&o.live))
}

// Run until ctx is done or a fatal error occurs
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.setState(StateStopped)

	o.setState(StateAwaitingLink)
	if err := poll(ctx, o.stack.IsLinkUp); err != nil {
		return err
	}

	o.setState(StateAwaitingAddress)
	o.ctx.Info("Waiting to get IP address...")
	if err := poll(ctx, func() bool { return o.stack.ConfigV4() != nil }); err != nil {
		return err
	}
	if config := o.stack.ConfigV4(); config != nil {
		o.ctx.WithField("Address", config.Address.String()).Info("Got IP")
	}
	o.setState(StateReady)

	for {
		if err := sleep(ctx, AttemptDelay); err != nil {
			return err
		}
		err := o.attempt(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if types.IsFatal(err) {
			attempts.WithLabelValues(stage(err), "fatal").Inc()
			o.ctx.WithError(err).Error("Unrecoverable error")
			return err
		}
		o.setState(StateReady)
		if err == nil {
			attempts.WithLabelValues(stage(err), "ok").Inc()
		} else {
			attempts.WithLabelValues(stage(err), "retry").Inc()
			o.ctx.WithField("Stage", stage(err)).WithError(err).Warn("Connection attempt failed")
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context) error {
	atomic.AddUint64(&o.attempts, 1)
	status.Attempt()
	o.setState(StateConnecting)

	secureSession, err := o.builder.Build(ctx)
	if err != nil {
		return err
	}
	defer secureSession.Close()

	atomic.AddInt32(&o.live, 1)
	sessionsLive.Inc()
	status.ConnectSession()
	defer func() {
		atomic.AddInt32(&o.live, -1)
		sessionsLive.Dec()
		status.DisconnectSession()
	}()

	o.setState(StateConnected)

	return o.runner.Run(ctx, secureSession)
}

func stage(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, secure.ErrResolve):
		return "dns"
	case errors.Is(err, secure.ErrConnect):
		return "connect"
	case errors.Is(err, secure.ErrSetup), errors.Is(err, secure.ErrHandshake):
		return "tls"
	case errors.Is(err, session.ErrReconnect), errors.Is(err, session.ErrRejected):
		return "mqtt"
	}
	return "other"
}

func poll(ctx context.Context, condition func() bool) error {
	for !condition() {
		if err := sleep(ctx, PollInterval); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
