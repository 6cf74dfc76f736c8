// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package config holds the process-wide configuration.
//
// A Config is built once at startup by Load and is never modified afterwards; components
// receive it by pointer and only read from it.
package config

import (
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultTrustAnchor is the PEM encoded CA certificate that is used when no root-ca-file is configured
//
//go:embed trust_anchor.pem
var DefaultTrustAnchor []byte

// Capacities of the fixed-size fields
const (
	MaxIdentifierLength    = 64
	MaxTopics              = 5
	MaxNetworkNameLength   = 32
	MaxNetworkSecretLength = 64
	MaxQoS                 = 2
)

// Defaults
var (
	DefaultTopics        = []string{"topicfeed"}
	DefaultMaxPacketSize = buffer.DefaultSize
)

// Link configuration
type Link struct {
	Driver        string
	Interface     string
	NetworkName   string
	NetworkSecret string
}

// Broker configuration
type Broker struct {
	Host            string
	Port            uint16
	ClientID        string
	Username        string
	Password        string
	Topics          []string
	MaxSubscribeQoS byte
	MaxPacketSize   int
}

// TLS configuration
type TLS struct {
	TrustAnchor    []byte
	MinVersion     uint16
	HandshakeFatal bool
}

// Sinks that received messages are emitted to, in addition to the log
type Sinks struct {
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	AMQPAddress   string
	AMQPExchange  string
}

// Config of the client
type Config struct {
	Link             Link
	Broker           Broker
	TLS              TLS
	DNSServer        string
	StatusAddress    string
	StatusAccessKeys []string
	Sinks            Sinks
}

// ErrInvalid is returned for configuration values that can not be used
var ErrInvalid = errors.New("Invalid configuration")

// ParsePort parses the textual broker port
func ParsePort(text string) (uint16, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(text), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse port %q as u16 (%s)", ErrInvalid, text, err)
	}
	return uint16(port), nil
}

// ParseTLSVersion parses a TLS version such as "1.2"
func ParseTLSVersion(text string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), "tls") {
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "", "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("%w: unknown TLS version %q", ErrInvalid, text)
}

// Load builds the Config from viper. Every error returned by Load is fatal.
func Load(v *viper.Viper) (*Config, error) {
	port, err := ParsePort(v.GetString("broker-port"))
	if err != nil {
		return nil, types.Fatal(err)
	}
	minVersion, err := ParseTLSVersion(v.GetString("tls-min-version"))
	if err != nil {
		return nil, types.Fatal(err)
	}
	maxQoS := v.GetInt("max-subscribe-qos")
	if maxQoS < 0 || maxQoS > MaxQoS {
		return nil, types.Fatal(fmt.Errorf("%w: max subscribe QoS %d", ErrInvalid, maxQoS))
	}

	cfg := &Config{
		Link: Link{
			Driver:        v.GetString("link-driver"),
			Interface:     v.GetString("link-interface"),
			NetworkName:   v.GetString("network-name"),
			NetworkSecret: v.GetString("network-secret"),
		},
		Broker: Broker{
			Host:            v.GetString("broker-host"),
			Port:            port,
			ClientID:        v.GetString("client-id"),
			Username:        v.GetString("username"),
			Password:        v.GetString("password"),
			Topics:          v.GetStringSlice("topics"),
			MaxSubscribeQoS: byte(maxQoS),
			MaxPacketSize:   v.GetInt("max-packet-size"),
		},
		TLS: TLS{
			TrustAnchor:    DefaultTrustAnchor,
			MinVersion:     minVersion,
			HandshakeFatal: v.GetBool("tls-handshake-fatal"),
		},
		DNSServer:        v.GetString("dns-server"),
		StatusAddress:    v.GetString("status-address"),
		StatusAccessKeys: v.GetStringSlice("status-access-keys"),
		Sinks: Sinks{
			RedisAddress:  v.GetString("redis-address"),
			RedisPassword: v.GetString("redis-password"),
			RedisDB:       v.GetInt("redis-db"),
			RedisKey:      v.GetString("redis-key"),
			AMQPAddress:   v.GetString("amqp-address"),
			AMQPExchange:  v.GetString("amqp-exchange"),
		},
	}

	if rootCAFile := v.GetString("root-ca-file"); rootCAFile != "" {
		roots, err := ioutil.ReadFile(rootCAFile)
		if err != nil {
			return nil, types.Fatal(fmt.Errorf("Could not load Root CA file: %w", err))
		}
		cfg.TLS.TrustAnchor = roots
	}
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = "client-" + uuid.New().String()
	}
	if len(cfg.Broker.Topics) == 0 {
		cfg.Broker.Topics = DefaultTopics
	}
	if cfg.Broker.MaxPacketSize == 0 {
		cfg.Broker.MaxPacketSize = DefaultMaxPacketSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.Fatal(err)
	}
	return cfg, nil
}

// Validate checks the configuration against the fixed capacities of the client
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("%w: broker host is empty", ErrInvalid)
	}
	for what, value := range map[string]string{
		"client id": c.Broker.ClientID,
		"username":  c.Broker.Username,
		"password":  c.Broker.Password,
	} {
		if err := buffer.CheckFits(what, len(value), MaxIdentifierLength); err != nil {
			return err
		}
	}
	if err := buffer.CheckFits("network name", len(c.Link.NetworkName), MaxNetworkNameLength); err != nil {
		return err
	}
	if err := buffer.CheckFits("network secret", len(c.Link.NetworkSecret), MaxNetworkSecretLength); err != nil {
		return err
	}
	if err := buffer.CheckFits("topic list", len(c.Broker.Topics), MaxTopics); err != nil {
		return err
	}
	if c.Broker.MaxSubscribeQoS > MaxQoS {
		return fmt.Errorf("%w: max subscribe QoS %d", ErrInvalid, c.Broker.MaxSubscribeQoS)
	}
	if c.Broker.MaxPacketSize <= 0 || c.Broker.MaxPacketSize > buffer.DefaultSize {
		return fmt.Errorf("%w: max packet size %d must be between 1 and %d", ErrInvalid, c.Broker.MaxPacketSize, buffer.DefaultSize)
	}
	if len(c.TLS.TrustAnchor) == 0 {
		return fmt.Errorf("%w: no trust anchor", ErrInvalid)
	}
	return nil
}
