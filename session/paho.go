// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/netstack"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// BufferSize indicates the maximum number of MQTT messages that should be buffered
var BufferSize = 10

// DisconnectQuiesce is the time in milliseconds that Close waits for pending work
var DisconnectQuiesce uint = 100

var errStreamUsed = errors.New("stream already used")

// Paho is a Client on top of the Eclipse Paho MQTT client. It never dials on its own:
// it talks over the stream it was created with, and does not reconnect.
type Paho struct {
	ctx      log.Interface
	opts     Options
	client   paho.Client
	messages chan paho.Message

	lostOnce sync.Once
	lost     chan struct{}
	lostErr  error
}

// NewPaho returns a new Paho client over stream. It implements Factory.
func NewPaho(stream net.Conn, opts Options, ctx log.Interface) (Client, error) {
	if opts.Send == nil {
		opts.Send = buffer.New(buffer.DefaultSize)
	}
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = buffer.DefaultSize
	}
	// The identity goes into the CONNECT packet, which is staged in the send buffer
	opts.Send.Reset()
	for _, field := range []string{opts.ClientID, opts.Username, opts.Password} {
		if _, err := opts.Send.WriteString(field); err != nil {
			return nil, fmt.Errorf("CONNECT does not fit in send buffer: %w", err)
		}
	}
	opts.Send.Reset()

	c := &Paho{
		ctx:      ctx.WithField("ClientID", opts.ClientID),
		opts:     opts,
		messages: make(chan paho.Message, BufferSize),
		lost:     make(chan struct{}),
	}

	var used bool
	var usedMu sync.Mutex
	mqttOpts := paho.NewClientOptions()
	mqttOpts.AddBroker("tcp://" + stream.RemoteAddr().String())
	mqttOpts.SetCustomOpenConnectionFn(func(_ *url.URL, _ paho.ClientOptions) (net.Conn, error) {
		usedMu.Lock()
		defer usedMu.Unlock()
		if used {
			return nil, errStreamUsed
		}
		used = true
		return stream, nil
	})
	mqttOpts.SetClientID(opts.ClientID)
	mqttOpts.SetUsername(opts.Username)
	mqttOpts.SetPassword(opts.Password)
	mqttOpts.SetProtocolVersion(4)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(false)
	mqttOpts.SetConnectRetry(false)
	mqttOpts.SetKeepAlive(30 * time.Second)
	mqttOpts.SetPingTimeout(10 * time.Second)
	mqttOpts.SetConnectTimeout(netstack.IdleTimeout)
	mqttOpts.SetDefaultPublishHandler(c.handle)
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.ctx.Warnf("Disconnected (%s)", err.Error())
		c.setLost(err)
	})

	c.client = paho.NewClient(mqttOpts)
	return c, nil
}

func (c *Paho) setLost(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = err
		close(c.lost)
	})
}

func (c *Paho) handle(_ paho.Client, msg paho.Message) {
	select {
	case c.messages <- msg:
		c.ctx.WithField("Topic", msg.Topic()).WithField("Size", len(msg.Payload())).Debug("Received message")
	default:
		c.ctx.WithField("Topic", msg.Topic()).Warn("Could not handle message: buffer full")
	}
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectToBroker implements Client
func (c *Paho) ConnectToBroker(ctx context.Context) error {
	token := c.client.Connect()
	err := wait(ctx, token)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	code := types.NetworkError
	if connectToken, ok := token.(*paho.ConnectToken); ok && connectToken.ReturnCode() != byte(types.Success) {
		code = types.ReasonCode(connectToken.ReturnCode())
	}
	return types.NewReasonError(code, err)
}

// SubscribeToTopics implements Client
func (c *Paho) SubscribeToTopics(ctx context.Context, topics []string) error {
	filters := make(map[string]byte, len(topics))
	c.opts.Send.Reset()
	for _, topic := range topics {
		if _, err := c.opts.Send.WriteString(topic); err != nil {
			return fmt.Errorf("%w: %s", ErrSubscribeFailed, err)
		}
		filters[topic] = c.opts.MaxSubscribeQoS
	}
	c.opts.Send.Reset()

	token := c.client.SubscribeMultiple(filters, c.handle)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, err)
	}
	if subscribeToken, ok := token.(*paho.SubscribeToken); ok {
		for topic, qos := range subscribeToken.Result() {
			if qos == 0x80 {
				return fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, topic)
			}
		}
	}
	return nil
}

// ReceiveMessage implements Client. It blocks until a message arrives, the connection
// is lost or ctx is done.
func (c *Paho) ReceiveMessage(ctx context.Context) (string, []byte, error) {
	select {
	case msg := <-c.messages:
		if len(msg.Payload()) > c.opts.MaxPacketSize {
			return "", nil, types.Fatal(fmt.Errorf("message on %s: %w: %d bytes exceed max packet size %d",
				msg.Topic(), types.ErrCapacityExceeded, len(msg.Payload()), c.opts.MaxPacketSize))
		}
		return msg.Topic(), msg.Payload(), nil
	case <-c.lost:
		return "", nil, types.NewReasonError(types.NetworkError, c.lostErr)
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Close implements Client
func (c *Paho) Close() error {
	if c.client.IsConnectionOpen() {
		c.client.Disconnect(DisconnectQuiesce)
	}
	c.setLost(errors.New("closed"))
	return nil
}
