// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package secure builds encrypted sessions to the broker.
//
// Every Build resolves the broker host again, opens a new stream socket and negotiates
// TLS over it. Nothing is reused between builds.
package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TheThingsNetwork/connector-client/netstack"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// Errors returned by Build
var (
	ErrResolve   = errors.New("Could not resolve broker")
	ErrConnect   = errors.New("Could not connect to broker")
	ErrSetup     = errors.New("Could not set up TLS")
	ErrHandshake = errors.New("TLS handshake failed")
)

// Config contains configuration for the Builder
type Config struct {
	Host           string
	Port           uint16
	TrustAnchor    []byte
	MinVersion     uint16
	HandshakeFatal bool
}

// Builder of secure sessions
type Builder struct {
	ctx    log.Interface
	stack  netstack.Stack
	config Config
}

// NewBuilder returns a new Builder that opens sockets on the stack
func NewBuilder(stack netstack.Stack, config Config, ctx log.Interface) *Builder {
	return &Builder{
		ctx:    ctx.WithField("Component", "TLS"),
		stack:  stack,
		config: config,
	}
}

func (b *Builder) tlsConfig() (*tls.Config, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(b.config.TrustAnchor) {
		return nil, errors.New("no certificates in trust anchor")
	}
	if b.config.MinVersion < tls.VersionTLS10 || b.config.MinVersion > tls.VersionTLS13 {
		return nil, fmt.Errorf("unsupported minimum version 0x%04x", b.config.MinVersion)
	}
	return &tls.Config{
		ServerName: b.config.Host,
		RootCAs:    roots,
		MinVersion: b.config.MinVersion,
	}, nil
}

// Build a new session. Resolve and connect errors are retryable, setup errors are
// fatal; handshake errors are fatal when HandshakeFatal is set.
func (b *Builder) Build(ctx context.Context) (*Session, error) {
	endpoint := types.Endpoint{Host: b.config.Host, Port: b.config.Port}
	logger := b.ctx.WithField("Broker", endpoint.String())

	addresses, err := b.stack.DNSQuery(ctx, b.config.Host, netstack.QueryA)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrResolve, err)
	}
	endpoint.Address = addresses[0]
	logger = logger.WithField("Address", endpoint.Address.String())

	logger.Info("Connecting")
	socket, err := b.stack.Dial(ctx, endpoint.Address, endpoint.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnect, err)
	}
	logger.Info("Connected")

	tlsConfig, err := b.tlsConfig()
	if err != nil {
		socket.Close()
		return nil, types.Fatal(fmt.Errorf("%w: %s", ErrSetup, err))
	}

	logger.Info("Start TLS connect")
	conn := tls.Client(socket, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		socket.Close()
		err = fmt.Errorf("%w: %s", ErrHandshake, err)
		if b.config.HandshakeFatal {
			return nil, types.Fatal(err)
		}
		return nil, err
	}
	logger.WithField("Version", tls.VersionName(conn.ConnectionState().Version)).Info("TLS connection established")

	// The application session waits for messages without a deadline
	if err := socket.SetReadIdle(false); err != nil {
		conn.Close()
		socket.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnect, err)
	}

	atomic.AddInt64(&liveSessions, 1)
	return &Session{
		Conn:     conn,
		Endpoint: endpoint,
		socket:   socket,
	}, nil
}

var liveSessions int64

// LiveSessions returns the number of sessions that have been built and not yet closed
func LiveSessions() int64 {
	return atomic.LoadInt64(&liveSessions)
}

// Session is an encrypted duplex stream to the broker. It owns its socket.
type Session struct {
	*tls.Conn
	Endpoint types.Endpoint

	socket    *netstack.Socket
	closeOnce sync.Once
}

// Close the session and its socket
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		atomic.AddInt64(&liveSessions, -1)
		err = s.Conn.Close()
		s.socket.Close()
	})
	return err
}
