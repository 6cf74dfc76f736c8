// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package netstack drives the network stack on top of the link.
//
// The Stack is a passive pump: Run keeps link and address state fresh for as long as
// the process runs, and consumers only issue requests against it (resolve a name, open
// a socket). Readiness is exposed through IsLinkUp and ConfigV4.
package netstack

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/miekg/dns"
)

// QueryType of a DNS query
type QueryType uint16

// Query types
const (
	QueryA    = QueryType(dns.TypeA)
	QueryAAAA = QueryType(dns.TypeAAAA)
)

func (q QueryType) String() string {
	return dns.TypeToString[uint16(q)]
}

// Stack is the network stack used by the client
type Stack interface {
	IsLinkUp() bool
	ConfigV4() *types.AddressConfig
	DNSQuery(ctx context.Context, name string, qtype QueryType) ([]net.IP, error)
	Dial(ctx context.Context, address net.IP, port uint16) (*Socket, error)
	Run(ctx context.Context) error
}

// Ready returns whether the link is up and an address has been assigned
func Ready(stack Stack) bool {
	return stack.IsLinkUp() && stack.ConfigV4() != nil
}

// IdleTimeout is the default idle timeout of sockets
var IdleTimeout = 10 * time.Second

// Errors returned by the stack
var (
	ErrDNS       = errors.New("DNS query failed")
	ErrNoAddress = errors.New("DNS query returned no addresses")
	ErrNotReady  = errors.New("Network not ready")
)
