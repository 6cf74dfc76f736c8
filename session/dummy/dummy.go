// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dummy implements an in-memory pub/sub client. A Broker hands out one Client
// per session and lets tests script connects, subscribes and received messages.
package dummy

import (
	"context"
	"net"
	"sync"

	"github.com/TheThingsNetwork/connector-client/session"
	"github.com/apex/log"
)

// BufferSize indicates the maximum number of scripted receive results per client
var BufferSize = 10

// Result of a ReceiveMessage
type Result struct {
	Topic   string
	Payload []byte
	Err     error
}

// Client is a dummy pub/sub client
type Client struct {
	mu              sync.Mutex
	ctx             log.Interface
	Stream          net.Conn
	Options         session.Options
	ConnectResult   error
	SubscribeResult error
	results         chan Result

	connects   int
	subscribed []string
	receives   int
	closed     bool
}

// Deliver queues a message for ReceiveMessage
func (c *Client) Deliver(topic string, payload []byte) {
	c.results <- Result{Topic: topic, Payload: payload}
}

// Fail queues an error for ReceiveMessage
func (c *Client) Fail(err error) {
	c.results <- Result{Err: err}
}

// ConnectToBroker implements session.Client
func (c *Client) ConnectToBroker(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.ConnectResult
}

// SubscribeToTopics implements session.Client
func (c *Client) SubscribeToTopics(_ context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topics...)
	return c.SubscribeResult
}

// ReceiveMessage implements session.Client. Without queued results it blocks until ctx is done.
func (c *Client) ReceiveMessage(ctx context.Context) (string, []byte, error) {
	c.mu.Lock()
	c.receives++
	c.mu.Unlock()
	select {
	case result := <-c.results:
		return result.Topic, result.Payload, result.Err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Close implements session.Client
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.ctx.Debug("Closed")
	return nil
}

// Stats of the calls made to a client
type Stats struct {
	Connects   int
	Subscribed []string
	Receives   int
	Closed     bool
}

// Stats returns the calls made to the client
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connects:   c.connects,
		Subscribed: append([]string(nil), c.subscribed...),
		Receives:   c.receives,
		Closed:     c.closed,
	}
}

// Broker creates dummy clients
type Broker struct {
	mu        sync.Mutex
	ctx       log.Interface
	configure func(attempt int, client *Client)
	clients   []*Client
}

// NewBroker returns a new Broker
func NewBroker(ctx log.Interface) *Broker {
	return &Broker{ctx: ctx.WithField("Broker", "Dummy")}
}

// OnConnect sets a function that configures every new client. Attempts are numbered from 0.
func (b *Broker) OnConnect(configure func(attempt int, client *Client)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configure = configure
}

// NewClient implements session.Factory
func (b *Broker) NewClient(stream net.Conn, opts session.Options, _ log.Interface) (session.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	client := &Client{
		ctx:     b.ctx.WithField("Attempt", len(b.clients)),
		Stream:  stream,
		Options: opts,
		results: make(chan Result, BufferSize),
	}
	if b.configure != nil {
		b.configure(len(b.clients), client)
	}
	b.clients = append(b.clients, client)
	return client, nil
}

// Clients returns all clients that were created
func (b *Broker) Clients() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Client(nil), b.clients...)
}
