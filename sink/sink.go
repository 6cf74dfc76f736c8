// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package sink emits received messages.
//
// The log sink is always present. Redis and AMQP sinks can be added to keep or forward
// the messages; a failing sink never stops the session.
package sink

import (
	"context"
	"fmt"

	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
)

// Sink for received messages
type Sink interface {
	Emit(ctx context.Context, msg types.Message) error
	Close() error
}

// NewLog returns a sink that logs messages
func NewLog(ctx log.Interface) Sink {
	return &logSink{ctx: ctx.WithField("Sink", "Log")}
}

type logSink struct {
	ctx log.Interface
}

func (s *logSink) Emit(_ context.Context, msg types.Message) error {
	s.ctx.WithField("Topic", msg.Topic).Infof("Received message: %q", msg.Payload)
	return nil
}

func (s *logSink) Close() error { return nil }

// Multi emits messages to all sinks
type Multi []Sink

// Emit to all sinks. All sinks are tried; the first error is returned.
func (m Multi) Emit(ctx context.Context, msg types.Message) error {
	var first error
	for _, sink := range m {
		if err := sink.Emit(ctx, msg); err != nil && first == nil {
			first = fmt.Errorf("%T: %w", sink, err)
		}
	}
	return first
}

// Close all sinks
func (m Multi) Close() error {
	var first error
	for _, sink := range m {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
