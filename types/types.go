// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"fmt"
	"net"
)

// LinkState is the association state of the wireless link
type LinkState int32

// Link states
const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "Disconnected"
	case LinkConnecting:
		return "Connecting"
	case LinkConnected:
		return "Connected"
	}
	return fmt.Sprintf("LinkState(%d)", int32(s))
}

// AddressConfig is the IPv4 configuration assigned to the link
type AddressConfig struct {
	Address net.IPNet
	Gateway net.IP
	DNS     []net.IP
}

// Endpoint of the broker. Host and Port come from configuration, Address is resolved
// for every connection attempt.
type Endpoint struct {
	Host    string
	Address net.IP
	Port    uint16
}

func (e Endpoint) String() string {
	if e.Address == nil {
		return net.JoinHostPort(e.Host, fmt.Sprint(e.Port))
	}
	return net.JoinHostPort(e.Address.String(), fmt.Sprint(e.Port))
}

// Message is a decoded inbound message
type Message struct {
	Topic   string
	Payload string
}
