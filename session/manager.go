// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/TheThingsNetwork/connector-client/sink"
	"github.com/TheThingsNetwork/connector-client/status"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// ReceivePacing is the delay after every receive, whatever its outcome
var ReceivePacing = 10 * time.Second

// InvalidPayload replaces payloads that are not valid UTF-8
const InvalidPayload = "<Invalid UTF-8>"

// State of a session
type State int

// Session states
const (
	StateConnecting State = iota
	StateSubscribing
	StateReceiving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateSubscribing:
		return "Subscribing"
	case StateReceiving:
		return "Receiving"
	}
	return "Closed"
}

// Config contains configuration for the Manager
type Config struct {
	ClientID        string
	Username        string
	Password        string
	Topics          []string
	MaxSubscribeQoS byte
	MaxPacketSize   int
}

// Manager of application sessions
type Manager struct {
	ctx     log.Interface
	config  Config
	factory Factory
	sink    sink.Sink
	state   int32
}

// NewManager returns a new Manager that creates clients with factory and emits received
// messages to sink
func NewManager(config Config, factory Factory, sink sink.Sink, ctx log.Interface) *Manager {
	m := &Manager{
		ctx:     ctx.WithField("Component", "MQTT"),
		config:  config,
		factory: factory,
		sink:    sink,
	}
	atomic.StoreInt32(&m.state, int32(StateClosed))
	return m
}

// State returns the state of the current session
func (m *Manager) State() State {
	return State(atomic.LoadInt32(&m.state))
}

func (m *Manager) setState(state State) {
	atomic.StoreInt32(&m.state, int32(state))
	m.ctx.WithField("State", state).Debug("Session state changed")
}

// Run a session over stream. Run returns when the session is lost, when the broker
// rejects the connection, on a fatal error or when ctx is done.
func (m *Manager) Run(ctx context.Context, stream net.Conn) error {
	session, err := NewApplicationSession(m.config.Topics, m.config.MaxPacketSize)
	if err != nil {
		return types.Fatal(err)
	}
	client, err := m.factory(stream, Options{
		ClientID:        m.config.ClientID,
		Username:        m.config.Username,
		Password:        m.config.Password,
		MaxSubscribeQoS: m.config.MaxSubscribeQoS,
		MaxPacketSize:   m.config.MaxPacketSize,
		Send:            session.Send,
		Receive:         session.Receive,
	}, m.ctx)
	if err != nil {
		return types.Fatal(err)
	}

	atomic.AddInt64(&liveSessions, 1)
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			m.ctx.WithError(closeErr).Debug("Could not close client")
		}
		atomic.AddInt64(&liveSessions, -1)
		m.setState(StateClosed)
	}()

	state := StateConnecting
	m.setState(state)
	for {
		switch state {
		case StateConnecting:
			m.ctx.Info("Attempting MQTT connection")
			if err := client.ConnectToBroker(ctx); err != nil {
				return m.connectFailed(ctx, err)
			}
			m.ctx.Info("Connected to broker")
			state = StateSubscribing
			m.setState(state)

		case StateSubscribing:
			topics := session.TopicList()
			if err := client.SubscribeToTopics(ctx, topics); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.ctx.WithError(err).Warn("Failed to subscribe")
			} else {
				m.ctx.WithField("Topics", topics).Info("Successfully subscribed to topics")
			}
			state = StateReceiving
			m.setState(state)

		case StateReceiving:
			if err := m.receive(ctx, client, session); err != nil {
				return err
			}
			if err := sleep(ctx, ReceivePacing); err != nil {
				return err
			}

		default:
			return nil
		}
	}
}

func (m *Manager) connectFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if types.IsFatal(err) {
		return err
	}
	connectResults.WithLabelValues(types.Reason(err).String()).Inc()
	if types.Reason(err) == types.NetworkError {
		m.ctx.WithError(err).Warn("MQTT Network Error - Broker Connect Failure")
		return fmt.Errorf("%w: %s", ErrReconnect, err)
	}
	m.ctx.WithError(err).Warn("Other MQTT Error")
	return fmt.Errorf("%w: %s", ErrRejected, err)
}

func (m *Manager) receive(ctx context.Context, client Client, session *ApplicationSession) error {
	topic, payload, err := client.ReceiveMessage(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case types.IsFatal(err):
		return err
	case types.Reason(err) == types.NetworkError:
		receiveErrors.WithLabelValues(types.NetworkError.String()).Inc()
		m.ctx.WithError(err).Warn("MQTT Network Error - Client Message Receive Error")
		return fmt.Errorf("%w: %s", ErrReconnect, err)
	default:
		receiveErrors.WithLabelValues(types.Reason(err).String()).Inc()
		m.ctx.WithError(err).Warn("Other MQTT Error")
		return nil
	}

	if err := session.Receive.Set(payload); err != nil {
		return types.Fatal(fmt.Errorf("message on %s: %w", topic, err))
	}
	msg := types.Message{Topic: topic, Payload: Decode(session.Receive.Bytes())}
	messagesReceived.Inc()
	status.Message()
	if err := m.sink.Emit(ctx, msg); err != nil {
		m.ctx.WithField("Topic", topic).WithError(err).Warn("Could not emit message")
	}
	return nil
}

// Decode a payload as text
func Decode(payload []byte) string {
	if !utf8.Valid(payload) {
		return InvalidPayload
	}
	return string(payload)
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
