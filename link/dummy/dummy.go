// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dummy implements an in-memory link driver. The link association can be
// scripted and dropped, which makes it useful for tests and for running the client on a
// host without a managed interface.
package dummy

import (
	"context"
	"errors"
	"sync"

	"github.com/TheThingsNetwork/connector-client/link"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// ErrNotStarted is returned when connecting a link that was not started
var ErrNotStarted = errors.New("Link not started")

// Dummy link driver
type Dummy struct {
	mu          sync.Mutex
	ctx         log.Interface
	credentials link.Credentials
	started     bool
	state       types.LinkState
	changed     chan struct{}
	results     []error

	configureCalls        int
	startCalls            int
	connectCalls          int
	connectWhileConnected int
}

// New returns a new Dummy link driver. Connect succeeds unless results are queued with
// FailNext.
func New(ctx log.Interface) *Dummy {
	return &Dummy{
		ctx:     ctx.WithField("Driver", "Dummy"),
		changed: make(chan struct{}),
	}
}

func (d *Dummy) setState(state types.LinkState) {
	d.state = state
	close(d.changed)
	d.changed = make(chan struct{})
}

// Configure implements link.Driver
func (d *Dummy) Configure(credentials link.Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configureCalls++
	d.credentials = credentials
	return nil
}

// Start implements link.Driver
func (d *Dummy) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	d.started = true
	d.ctx.Debug("Started")
	return nil
}

// IsStarted implements link.Driver
func (d *Dummy) IsStarted() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started, nil
}

// Connect implements link.Driver
func (d *Dummy) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectCalls++
	if d.state == types.LinkConnected {
		d.connectWhileConnected++
	}
	if !d.started {
		return ErrNotStarted
	}
	if len(d.results) > 0 {
		err := d.results[0]
		d.results = d.results[1:]
		if err != nil {
			d.setState(types.LinkDisconnected)
			return err
		}
	}
	d.setState(types.LinkConnected)
	d.ctx.WithField("Network", d.credentials.NetworkName).Debug("Connected")
	return nil
}

// WaitForEvent implements link.Driver
func (d *Dummy) WaitForEvent(ctx context.Context, event link.Event) error {
	for {
		d.mu.Lock()
		connected := d.state == types.LinkConnected
		changed := d.changed
		d.mu.Unlock()
		if connected == (event == link.EventConnected) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// State implements link.Driver
func (d *Dummy) State() types.LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Capabilities implements link.Driver
func (d *Dummy) Capabilities() []string {
	return []string{"Client"}
}

// FailNext queues results for the next calls to Connect
func (d *Dummy) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, errs...)
}

// Drop the link
func (d *Dummy) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setState(types.LinkDisconnected)
	d.ctx.Debug("Dropped")
}

// Stats of the calls made to the driver
type Stats struct {
	Configure             int
	Start                 int
	Connect               int
	ConnectWhileConnected int
}

// Stats returns the number of calls made to the driver
func (d *Dummy) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Configure:             d.configureCalls,
		Start:                 d.startCalls,
		Connect:               d.connectCalls,
		ConnectWhileConnected: d.connectWhileConnected,
	}
}
