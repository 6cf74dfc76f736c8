// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package session runs the publish/subscribe session on top of a secure stream.
//
// The Manager connects to the broker, subscribes to the configured topics and receives
// messages until the session is lost. Each Run uses a fresh ApplicationSession with its
// own fixed-capacity buffers; nothing is carried over between runs.
//
// Outcomes are classified as follows:
//   - connect NetworkError: Run returns ErrReconnect
//   - connect with any other reason code: Run returns ErrRejected
//   - subscribe failure: logged, the session continues receiving
//   - receive NetworkError: Run returns ErrReconnect
//   - receive with any other reason code: logged, receiving continues
//   - capacity violations: fatal
package session

import (
	"context"
	"net"
	"sort"
	"sync/atomic"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/config"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
)

// Client is the pub/sub client of one session
type Client interface {
	ConnectToBroker(ctx context.Context) error
	SubscribeToTopics(ctx context.Context, topics []string) error
	ReceiveMessage(ctx context.Context) (topic string, payload []byte, err error)
	Close() error
}

// Options to create a Client
type Options struct {
	ClientID        string
	Username        string
	Password        string
	MaxSubscribeQoS byte
	MaxPacketSize   int
	Send            *buffer.Arena
	Receive         *buffer.Arena
}

// Factory creates a Client that talks over stream
type Factory func(stream net.Conn, opts Options, ctx log.Interface) (Client, error)

var liveSessions int64

// LiveSessions returns the number of application sessions that are currently running
func LiveSessions() int64 {
	return atomic.LoadInt64(&liveSessions)
}

// ApplicationSession holds the buffers and subscriptions of one session
type ApplicationSession struct {
	Send    *buffer.Arena
	Receive *buffer.Arena
	Topics  mapset.Set
}

// NewApplicationSession returns a new ApplicationSession with buffers of bufferSize
// bytes, subscribed to topics
func NewApplicationSession(topics []string, bufferSize int) (*ApplicationSession, error) {
	if err := buffer.CheckFits("topic list", len(topics), config.MaxTopics); err != nil {
		return nil, err
	}
	s := &ApplicationSession{
		Send:    buffer.New(bufferSize),
		Receive: buffer.New(bufferSize),
		Topics:  mapset.NewThreadUnsafeSet(),
	}
	for _, topic := range topics {
		s.Topics.Add(topic)
	}
	return s, nil
}

// TopicList returns the subscribed topics in order
func (s *ApplicationSession) TopicList() []string {
	topics := make([]string, 0, s.Topics.Cardinality())
	for _, topic := range s.Topics.ToSlice() {
		topics = append(topics, topic.(string))
	}
	sort.Strings(topics)
	return topics
}
