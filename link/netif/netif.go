// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package netif implements a link driver on top of a host network interface.
//
// The operating system owns the association; the driver treats the interface as
// associated when it is administratively up and running.
package netif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TheThingsNetwork/connector-client/link"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// PollInterval is the interval at which the interface flags are checked
var PollInterval = 500 * time.Millisecond

// AssociationTimeout is the time Connect waits for the interface to come up
var AssociationTimeout = 10 * time.Second

// ErrNotAssociated is returned when the interface did not come up in time
var ErrNotAssociated = errors.New("Interface not associated")

// Interface link driver
type Interface struct {
	mu      sync.Mutex
	ctx     log.Interface
	name    string
	started bool

	lookup func(name string) (*net.Interface, error)
}

// New returns a link driver for the named host interface
func New(name string, ctx log.Interface) *Interface {
	return &Interface{
		ctx:    ctx.WithField("Interface", name),
		name:   name,
		lookup: net.InterfaceByName,
	}
}

// Configure implements link.Driver. The network name must match the interface name if set.
func (i *Interface) Configure(credentials link.Credentials) error {
	if credentials.NetworkName != "" && credentials.NetworkName != i.name {
		i.ctx.WithField("Network", credentials.NetworkName).Debug("Network name does not match interface, association is managed by the host")
	}
	return nil
}

// Start implements link.Driver
func (i *Interface) Start(_ context.Context) error {
	if _, err := i.lookup(i.name); err != nil {
		return fmt.Errorf("Could not find interface %s: %w", i.name, err)
	}
	i.mu.Lock()
	i.started = true
	i.mu.Unlock()
	return nil
}

// IsStarted implements link.Driver
func (i *Interface) IsStarted() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started, nil
}

// Connect implements link.Driver
func (i *Interface) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, AssociationTimeout)
	defer cancel()
	if err := i.WaitForEvent(ctx, link.EventConnected); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNotAssociated
		}
		return err
	}
	return nil
}

// WaitForEvent implements link.Driver
func (i *Interface) WaitForEvent(ctx context.Context, event link.Event) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		connected := i.State() == types.LinkConnected
		if connected == (event == link.EventConnected) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// State implements link.Driver
func (i *Interface) State() types.LinkState {
	iface, err := i.lookup(i.name)
	if err != nil {
		return types.LinkDisconnected
	}
	if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0 {
		return types.LinkConnected
	}
	return types.LinkDisconnected
}

// Capabilities implements link.Driver
func (i *Interface) Capabilities() []string {
	iface, err := i.lookup(i.name)
	if err != nil {
		return nil
	}
	return []string{iface.Flags.String(), fmt.Sprintf("mtu=%d", iface.MTU)}
}
