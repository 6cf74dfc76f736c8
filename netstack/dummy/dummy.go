// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dummy implements an in-memory network stack for tests
package dummy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/netstack"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// ErrNoRoute is returned by Dial when no dial function is set
var ErrNoRoute = errors.New("No route to host")

// DialFunc opens the connection for a Dial
type DialFunc func(ctx context.Context, address net.IP, port uint16) (net.Conn, error)

// Dummy network stack
type Dummy struct {
	mu      sync.Mutex
	ctx     log.Interface
	linkUp  bool
	config  *types.AddressConfig
	records map[string][]net.IP
	dnsErrs []error
	dial    DialFunc

	dnsQueries int
	dials      int
}

// New returns a new Dummy stack. The link is down and no address is assigned.
func New(ctx log.Interface) *Dummy {
	return &Dummy{
		ctx:     ctx.WithField("Stack", "Dummy"),
		records: make(map[string][]net.IP),
	}
}

// SetLinkUp sets the link state
func (d *Dummy) SetLinkUp(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkUp = up
}

// SetAddress assigns an address, or removes it when cidr is empty
func (d *Dummy) SetAddress(cidr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cidr == "" {
		d.config = nil
		return nil
	}
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	d.config = &types.AddressConfig{Address: net.IPNet{IP: ip, Mask: ipNet.Mask}}
	return nil
}

// AddRecord adds a DNS record
func (d *Dummy) AddRecord(name string, ips ...net.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[name] = append(d.records[name], ips...)
}

// FailDNS queues errors for the next DNS queries
func (d *Dummy) FailDNS(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dnsErrs = append(d.dnsErrs, errs...)
}

// SetDial sets the function that opens connections
func (d *Dummy) SetDial(dial DialFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dial = dial
}

// IsLinkUp implements netstack.Stack
func (d *Dummy) IsLinkUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linkUp
}

// ConfigV4 implements netstack.Stack
func (d *Dummy) ConfigV4() *types.AddressConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// DNSQuery implements netstack.Stack
func (d *Dummy) DNSQuery(_ context.Context, name string, _ netstack.QueryType) ([]net.IP, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dnsQueries++
	if len(d.dnsErrs) > 0 {
		err := d.dnsErrs[0]
		d.dnsErrs = d.dnsErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	ips, ok := d.records[name]
	if !ok {
		return nil, netstack.ErrNoAddress
	}
	return ips, nil
}

// Dial implements netstack.Stack
func (d *Dummy) Dial(ctx context.Context, address net.IP, port uint16) (*netstack.Socket, error) {
	d.mu.Lock()
	d.dials++
	dial := d.dial
	d.mu.Unlock()
	if dial == nil {
		return nil, ErrNoRoute
	}
	conn, err := dial(ctx, address, port)
	if err != nil {
		return nil, err
	}
	d.ctx.WithField("Address", net.JoinHostPort(address.String(), strconv.Itoa(int(port)))).Debug("Dialed")
	socket, err := netstack.NewSocket(conn, netstack.IdleTimeout, buffer.DefaultSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return socket, nil
}

// Run implements netstack.Stack
func (d *Dummy) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Stats of the requests made to the stack
type Stats struct {
	DNSQueries int
	Dials      int
}

// Stats returns the number of requests made to the stack
func (d *Dummy) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{DNSQueries: d.dnsQueries, Dials: d.dials}
}

// DialTCP returns a DialFunc that always dials addr, regardless of the requested endpoint
func DialTCP(addr string) DialFunc {
	return func(ctx context.Context, _ net.IP, _ uint16) (net.Conn, error) {
		dialer := net.Dialer{Timeout: time.Second}
		return dialer.DialContext(ctx, "tcp", addr)
	}
}
