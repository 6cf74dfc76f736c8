// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheThingsNetwork/connector-client/session"
	"github.com/TheThingsNetwork/connector-client/session/dummy"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []types.Message
}

func (s *recordingSink) Emit(_ context.Context, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.messages...)
}

func TestManager(t *testing.T) {
	Convey("Given a new Context, a dummy broker and a Manager", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		receivePacing := session.ReceivePacing
		session.ReceivePacing = time.Millisecond
		defer func() { session.ReceivePacing = receivePacing }()

		broker := dummy.NewBroker(ctx)
		sink := new(recordingSink)
		cfg := session.Config{
			ClientID:        "client-1",
			Username:        "device",
			Password:        "secret",
			Topics:          []string{"topicfeed"},
			MaxSubscribeQoS: 2,
			MaxPacketSize:   4096,
		}
		live := session.LiveSessions()

		run := func() error {
			return session.NewManager(cfg, broker.NewClient, sink, ctx).Run(context.Background(), nil)
		}

		Convey("When connecting fails with a network error", func() {
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.ConnectResult = types.NewReasonError(types.NetworkError, nil)
			})
			err := run()
			Convey("Run should ask for a reconnect", func() {
				So(errors.Is(err, session.ErrReconnect), ShouldBeTrue)
				So(types.IsFatal(err), ShouldBeFalse)
			})
			Convey("It should not subscribe or receive", func() {
				stats := broker.Clients()[0].Stats()
				So(stats.Subscribed, ShouldBeEmpty)
				So(stats.Receives, ShouldEqual, 0)
			})
			Convey("The client should be closed and the session released", func() {
				So(broker.Clients()[0].Stats().Closed, ShouldBeTrue)
				So(session.LiveSessions(), ShouldEqual, live)
			})
		})

		Convey("When connecting is refused", func() {
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.ConnectResult = types.NewReasonError(types.NotAuthorized, nil)
			})
			err := run()
			Convey("Run should return a non-fatal rejection", func() {
				So(errors.Is(err, session.ErrRejected), ShouldBeTrue)
				So(types.IsFatal(err), ShouldBeFalse)
				So(broker.Clients()[0].Stats().Subscribed, ShouldBeEmpty)
			})
		})

		Convey("When the subscription fails", func() {
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.SubscribeResult = errors.New("suback failure")
				client.Deliver("topicfeed", []byte("hello"))
				client.Fail(types.NewReasonError(types.NetworkError, nil))
			})
			err := run()
			Convey("The receive loop should still be entered", func() {
				So(broker.Clients()[0].Stats().Subscribed, ShouldResemble, []string{"topicfeed"})
				So(sink.Messages(), ShouldResemble, []types.Message{{Topic: "topicfeed", Payload: "hello"}})
			})
			Convey("A receive network error should end the session", func() {
				So(errors.Is(err, session.ErrReconnect), ShouldBeTrue)
				So(broker.Clients()[0].Stats().Receives, ShouldEqual, 2)
			})
		})

		Convey("When receiving a payload that is not valid UTF-8", func() {
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.Deliver("topicfeed", []byte{0xff, 0xfe, 0xfd})
				client.Fail(types.NewReasonError(types.NetworkError, nil))
			})
			run()
			Convey("The message should be emitted with the placeholder", func() {
				So(sink.Messages(), ShouldResemble, []types.Message{{Topic: "topicfeed", Payload: session.InvalidPayload}})
			})
		})

		Convey("When receiving fails with another reason", func() {
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.Fail(types.NewReasonError(types.UnspecifiedError, nil))
				client.Deliver("topicfeed", []byte("after"))
				client.Fail(types.NewReasonError(types.NetworkError, nil))
			})
			err := run()
			Convey("Receiving should continue", func() {
				So(sink.Messages(), ShouldResemble, []types.Message{{Topic: "topicfeed", Payload: "after"}})
				So(errors.Is(err, session.ErrReconnect), ShouldBeTrue)
			})
		})

		Convey("When receiving a payload that exceeds the receive buffer", func() {
			cfg.MaxPacketSize = 4
			broker.OnConnect(func(_ int, client *dummy.Client) {
				client.Deliver("topicfeed", []byte("too long"))
			})
			err := run()
			Convey("There should be a fatal capacity error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
				So(sink.Messages(), ShouldBeEmpty)
			})
		})

		Convey("When there are too many topics", func() {
			cfg.Topics = []string{"a", "b", "c", "d", "e", "f"}
			err := run()
			Convey("There should be a fatal capacity error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(broker.Clients(), ShouldBeEmpty)
			})
		})

		Convey("When the context is cancelled while receiving", func() {
			runCtx, cancel := context.WithCancel(context.Background())
			manager := session.NewManager(cfg, broker.NewClient, sink, ctx)
			done := make(chan error, 1)
			go func() { done <- manager.Run(runCtx, nil) }()
			for manager.State() != session.StateReceiving {
				time.Sleep(time.Millisecond)
			}
			cancel()
			Convey("Run should return the context error", func() {
				select {
				case err := <-done:
					So(err, ShouldEqual, context.Canceled)
					So(manager.State(), ShouldEqual, session.StateClosed)
				case <-time.After(time.Second):
					So("Timeout Exceeded", ShouldBeFalse)
				}
			})
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Decode should return text or the placeholder", t, func() {
		So(session.Decode([]byte("héllo")), ShouldEqual, "héllo")
		So(session.Decode([]byte{0xc3}), ShouldEqual, session.InvalidPayload)
		So(session.Decode(nil), ShouldEqual, "")
	})
}

func TestApplicationSession(t *testing.T) {
	Convey("Given a new ApplicationSession", t, func() {
		s, err := session.NewApplicationSession([]string{"b", "a", "b"}, 64)
		So(err, ShouldBeNil)
		Convey("The topics should be deduplicated and ordered", func() {
			So(s.TopicList(), ShouldResemble, []string{"a", "b"})
		})
		Convey("The buffers should have the requested capacity", func() {
			So(s.Send.Cap(), ShouldEqual, 64)
			So(s.Receive.Cap(), ShouldEqual, 64)
		})
	})
}
