// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// AMQPConfig contains configuration for the AMQP sink
type AMQPConfig struct {
	Address      string
	ExchangeName string
}

// ErrAMQPNotConnected is returned when emitting to an AMQP sink without a channel
var ErrAMQPNotConnected = errors.New("AMQP channel not open")

// NewAMQP returns a sink that publishes messages to an AMQP topic exchange. The routing
// key is the MQTT topic with "/" replaced by ".".
func NewAMQP(config AMQPConfig, ctx log.Interface) (Sink, error) {
	if config.ExchangeName == "" {
		config.ExchangeName = "amq.topic"
	}
	s := &amqpSink{
		ctx:    ctx.WithField("Sink", "AMQP"),
		config: config,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

type amqpSink struct {
	ctx    log.Interface
	config AMQPConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func (s *amqpSink) connect() error {
	conn, err := amqp.Dial(s.config.Address)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	s.mu.Lock()
	previous := s.conn
	s.conn, s.channel = conn, channel
	s.mu.Unlock()
	if previous != nil {
		if err := previous.Close(); err != nil && err != amqp.ErrClosed {
			s.ctx.WithError(err).Debug("Could not close previous connection")
		}
	}
	s.ctx.WithField("Exchange", s.config.ExchangeName).Info("Connected")
	return nil
}

// RoutingKey returns the AMQP routing key for an MQTT topic
func RoutingKey(topic string) string {
	return strings.Replace(topic, "/", ".", -1)
}

func (s *amqpSink) Emit(_ context.Context, msg types.Message) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		if err := s.connect(); err != nil {
			return err
		}
		s.mu.Lock()
		channel = s.channel
		s.mu.Unlock()
	}
	err := channel.Publish(s.config.ExchangeName, RoutingKey(msg.Topic), false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         []byte(msg.Payload),
	})
	if err == amqp.ErrClosed {
		s.mu.Lock()
		s.channel = nil
		s.mu.Unlock()
	}
	return err
}

func (s *amqpSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.channel = nil, nil
	return err
}
