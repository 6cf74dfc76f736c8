// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package link keeps the wireless interface associated to the configured network.
//
// The Supervisor drives a Driver through configure, start and connect, waits for the
// link to drop when it is connected and retries after ReconnectDelay when association
// fails. It never gives up and only stops when its context is cancelled.
package link

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// Event is an event reported by the link driver
type Event int

// Events
const (
	EventDisconnected Event = iota
	EventConnected
)

func (e Event) String() string {
	if e == EventConnected {
		return "Connected"
	}
	return "Disconnected"
}

// Credentials of the network to associate to
type Credentials struct {
	NetworkName   string
	NetworkSecret string
}

// Driver for the link interface
type Driver interface {
	Configure(Credentials) error
	Start(ctx context.Context) error
	IsStarted() (bool, error)
	Connect(ctx context.Context) error
	WaitForEvent(ctx context.Context, event Event) error
	State() types.LinkState
	Capabilities() []string
}

// ReconnectDelay is the pause after a failed association and after the link dropped
var ReconnectDelay = 5 * time.Second

// Supervisor of the link
type Supervisor struct {
	ctx         log.Interface
	driver      Driver
	credentials Credentials
	state       int32
}

// NewSupervisor returns a new Supervisor for the driver
func NewSupervisor(driver Driver, credentials Credentials, ctx log.Interface) *Supervisor {
	return &Supervisor{
		ctx:         ctx.WithField("Component", "Link"),
		driver:      driver,
		credentials: credentials,
	}
}

// State returns the last observed link state
func (s *Supervisor) State() types.LinkState {
	return types.LinkState(atomic.LoadInt32(&s.state))
}

func (s *Supervisor) setState(state types.LinkState) {
	if types.LinkState(atomic.SwapInt32(&s.state, int32(state))) != state {
		linkState.Set(float64(state))
		s.ctx.WithField("State", state).Debug("Link state changed")
	}
}

// Run the supervisor until ctx is done
func (s *Supervisor) Run(ctx context.Context) error {
	s.ctx.WithField("Capabilities", s.driver.Capabilities()).Info("Start link supervisor")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.driver.State() == types.LinkConnected {
			s.setState(types.LinkConnected)
			if err := s.driver.WaitForEvent(ctx, EventDisconnected); err != nil {
				return err
			}
			s.setState(types.LinkDisconnected)
			s.ctx.Warn("Link lost")
			if err := sleep(ctx, ReconnectDelay); err != nil {
				return err
			}
		}

		if started, err := s.driver.IsStarted(); err != nil || !started {
			if err := s.driver.Configure(s.credentials); err != nil {
				s.ctx.WithError(err).Warn("Could not configure link")
				if err := sleep(ctx, ReconnectDelay); err != nil {
					return err
				}
				continue
			}
			s.ctx.WithField("Network", s.credentials.NetworkName).Info("Starting link")
			if err := s.driver.Start(ctx); err != nil {
				s.ctx.WithError(err).Warn("Could not start link")
				if err := sleep(ctx, ReconnectDelay); err != nil {
					return err
				}
				continue
			}
			s.ctx.Info("Link started")
		}

		s.ctx.Info("About to connect link")
		s.setState(types.LinkConnecting)
		if err := s.driver.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setState(types.LinkDisconnected)
			associations.WithLabelValues("failed").Inc()
			s.ctx.WithError(err).Warn("Failed to connect link")
			if err := sleep(ctx, ReconnectDelay); err != nil {
				return err
			}
			continue
		}
		associations.WithLabelValues("connected").Inc()
		s.setState(types.LinkConnected)
		s.ctx.Info("Link connected")
	}
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
