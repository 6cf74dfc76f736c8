// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package netstack

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	"github.com/miekg/dns"
)

// RefreshInterval is the interval at which the host stack refreshes link and address state
var RefreshInterval = 500 * time.Millisecond

// DefaultResolver is used when no resolver is configured and none can be read from resolv.conf
var DefaultResolver = "1.1.1.1:53"

// ResolvConf is the resolver configuration file of the host
var ResolvConf = "/etc/resolv.conf"

// LinkStateReader reports the state of the link
type LinkStateReader interface {
	State() types.LinkState
}

// HostConfig contains configuration for the host stack
type HostConfig struct {
	Interface string
	Resolver  string
	Link      LinkStateReader
}

// Host stack, backed by the network stack of the operating system
type Host struct {
	ctx      log.Interface
	iface    string
	link     LinkStateReader
	resolver string
	client   *dns.Client
	dialer   net.Dialer

	linkUp int32
	mu     sync.RWMutex
	config *types.AddressConfig

	addrs func(iface string) ([]net.Addr, error)
}

// NewHost returns a new Host stack
func NewHost(config HostConfig, ctx log.Interface) *Host {
	h := &Host{
		ctx:      ctx.WithField("Component", "Stack"),
		iface:    config.Interface,
		link:     config.Link,
		resolver: config.Resolver,
		client:   &dns.Client{Net: "udp", Timeout: IdleTimeout},
		dialer:   net.Dialer{Timeout: IdleTimeout},
		addrs:    interfaceAddrs,
	}
	if h.resolver == "" {
		h.resolver = systemResolver()
	}
	return h
}

func systemResolver() string {
	conf, err := dns.ClientConfigFromFile(ResolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return DefaultResolver
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	if name == "" {
		return net.InterfaceAddrs()
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.Addrs()
}

// IsLinkUp implements Stack
func (h *Host) IsLinkUp() bool {
	return atomic.LoadInt32(&h.linkUp) == 1
}

// ConfigV4 implements Stack
func (h *Host) ConfigV4() *types.AddressConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Run implements Stack. It only returns when ctx is done.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		h.refresh()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Host) refresh() {
	up := h.link == nil || h.link.State() == types.LinkConnected
	var config *types.AddressConfig
	if up {
		config = h.lookupConfig()
	}
	if up {
		atomic.StoreInt32(&h.linkUp, 1)
	} else {
		atomic.StoreInt32(&h.linkUp, 0)
	}

	h.mu.Lock()
	previous := h.config
	h.config = config
	h.mu.Unlock()

	switch {
	case config != nil && (previous == nil || !previous.Address.IP.Equal(config.Address.IP)):
		h.ctx.WithField("Address", config.Address.String()).Info("Got IP")
	case config == nil && previous != nil:
		h.ctx.Warn("Lost IP")
	}
}

func (h *Host) lookupConfig() *types.AddressConfig {
	addrs, err := h.addrs(h.iface)
	if err != nil {
		h.ctx.WithError(err).Debug("Could not get interface addresses")
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		return &types.AddressConfig{
			Address: net.IPNet{IP: ipNet.IP.To4(), Mask: ipNet.Mask},
		}
	}
	return nil
}

// DNSQuery implements Stack
func (h *Host) DNSQuery(ctx context.Context, name string, qtype QueryType) ([]net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		return []net.IP{ip}, nil
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), uint16(qtype))
	msg.RecursionDesired = true

	res, _, err := h.client.ExchangeContext(ctx, msg, h.resolver)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDNS, err)
	}
	if res.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: %s", ErrDNS, dns.RcodeToString[res.Rcode])
	}
	var ips []net.IP
	for _, rr := range res.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if qtype == QueryA {
				ips = append(ips, rr.A)
			}
		case *dns.AAAA:
			if qtype == QueryAAAA {
				ips = append(ips, rr.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoAddress, qtype, name)
	}
	return ips, nil
}

// Dial implements Stack
func (h *Host) Dial(ctx context.Context, address net.IP, port uint16) (*Socket, error) {
	if !Ready(h) {
		return nil, ErrNotReady
	}
	conn, err := h.dialer.DialContext(ctx, "tcp", net.JoinHostPort(address.String(), strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	socket, err := NewSocket(conn, IdleTimeout, buffer.DefaultSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return socket, nil
}
