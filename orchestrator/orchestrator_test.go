// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/TheThingsNetwork/connector-client/netstack"
	stack "github.com/TheThingsNetwork/connector-client/netstack/dummy"
	"github.com/TheThingsNetwork/connector-client/secure"
	"github.com/TheThingsNetwork/connector-client/session"
	broker "github.com/TheThingsNetwork/connector-client/session/dummy"
	"github.com/TheThingsNetwork/connector-client/sink"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func eventually(condition func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return condition()
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func start(o *Orchestrator) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	go func() {
		r.err = o.Run(ctx)
		close(r.done)
	}()
	return r
}

func (r *run) stop() error {
	r.cancel()
	<-r.done
	return r.err
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func TestOrchestrator(t *testing.T) {
	pollInterval, attemptDelay, receivePacing := PollInterval, AttemptDelay, session.ReceivePacing
	PollInterval, AttemptDelay, session.ReceivePacing = time.Millisecond, time.Millisecond, time.Millisecond
	defer func() {
		PollInterval, AttemptDelay, session.ReceivePacing = pollInterval, attemptDelay, receivePacing
	}()

	Convey("Given a new Context, a TLS server, a dummy stack and a dummy broker", t, func(c C) {

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

		srv := httptest.NewTLSServer(http.NotFoundHandler())
		defer srv.Close()

		s := stack.New(ctx)
		s.AddRecord("example.com", net.IPv4(127, 0, 0, 1))
		s.SetDial(stack.DialTCP(srv.Listener.Addr().String()))

		cfg := secure.Config{
			Host:           "example.com",
			Port:           8883,
			TrustAnchor:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}),
			MinVersion:     tls.VersionTLS12,
			HandshakeFatal: true,
		}

		b := broker.NewBroker(ctx)
		var mu sync.Mutex
		var overlap []int64
		sockets, sessions := netstack.LiveSockets(), secure.LiveSessions()
		configure := func(attempt int, client *broker.Client) {}
		b.OnConnect(func(attempt int, client *broker.Client) {
			mu.Lock()
			overlap = append(overlap, netstack.LiveSockets()-sockets, secure.LiveSessions()-sessions)
			mu.Unlock()
			configure(attempt, client)
		})

		manager := session.NewManager(session.Config{
			ClientID:      "client-1",
			Topics:        []string{"topicfeed"},
			MaxPacketSize: 4096,
		}, b.NewClient, sink.NewLog(ctx), ctx)

		newOrchestrator := func() *Orchestrator {
			return New(s, secure.NewBuilder(s, cfg, ctx), manager, ctx)
		}

		Convey("When the link never comes up", func() {
			o := newOrchestrator()
			r := start(o)
			time.Sleep(50 * time.Millisecond)
			Convey("It should be waiting for the link", func() {
				So(o.State(), ShouldEqual, StateAwaitingLink)
			})
			Convey("No DNS query or socket should have been made", func() {
				So(s.Stats().DNSQueries, ShouldEqual, 0)
				So(s.Stats().Dials, ShouldEqual, 0)
				So(o.Attempts(), ShouldEqual, 0)
			})
			Convey("It should stop when the context is cancelled", func() {
				So(r.stop(), ShouldEqual, context.Canceled)
				So(o.State(), ShouldEqual, StateStopped)
			})
			r.stop()
		})

		Convey("When the link is up without an address", func() {
			s.SetLinkUp(true)
			o := newOrchestrator()
			r := start(o)
			defer r.stop()
			Convey("It should be waiting for an address", func() {
				So(eventually(func() bool { return o.State() == StateAwaitingAddress }), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(s.Stats().DNSQueries, ShouldEqual, 0)
			})
		})

		Convey("When the network is ready", func() {
			s.SetLinkUp(true)
			s.SetAddress("192.168.1.20/24")

			Convey("When everything works", func() {
				o := newOrchestrator()
				r := start(o)
				Convey("It should connect once and stay connected", func() {
					So(eventually(func() bool { return manager.State() == session.StateReceiving }), ShouldBeTrue)
					So(o.State(), ShouldEqual, StateConnected)
					So(o.LiveSessions(), ShouldEqual, 1)
					time.Sleep(20 * time.Millisecond)
					So(o.Attempts(), ShouldEqual, 1)
					So(b.Clients()[0].Stats().Subscribed, ShouldResemble, []string{"topicfeed"})
				})
				Convey("When stopped, everything should be closed", func() {
					So(eventually(func() bool { return manager.State() == session.StateReceiving }), ShouldBeTrue)
					So(r.stop(), ShouldEqual, context.Canceled)
					So(o.LiveSessions(), ShouldEqual, 0)
					So(netstack.LiveSockets(), ShouldEqual, sockets)
					So(secure.LiveSessions(), ShouldEqual, sessions)
					So(b.Clients()[0].Stats().Closed, ShouldBeTrue)
				})
				r.stop()
			})

			Convey("When the first DNS query fails", func() {
				s.FailDNS(errors.New("timeout"))
				o := newOrchestrator()
				r := start(o)
				defer r.stop()
				Convey("It should retry and connect", func() {
					So(eventually(func() bool { return o.State() == StateConnected }), ShouldBeTrue)
					So(s.Stats().DNSQueries, ShouldEqual, 2)
					So(s.Stats().Dials, ShouldEqual, 1)
					So(o.Attempts(), ShouldEqual, 2)
					So(r.finished(), ShouldBeFalse)
				})
			})

			Convey("When the broker connect fails with a network error", func() {
				configure = func(attempt int, client *broker.Client) {
					if attempt < 2 {
						client.ConnectResult = types.NewReasonError(types.NetworkError, nil)
					}
				}
				o := newOrchestrator()
				r := start(o)
				defer r.stop()
				Convey("It should rebuild the whole chain for every attempt", func() {
					So(eventually(func() bool { return len(b.Clients()) == 3 && manager.State() == session.StateReceiving }), ShouldBeTrue)
					So(s.Stats().DNSQueries, ShouldEqual, 3)
					So(s.Stats().Dials, ShouldEqual, 3)
					So(b.Clients()[0].Stats().Subscribed, ShouldBeEmpty)
					So(b.Clients()[0].Stats().Closed, ShouldBeTrue)
				})
				Convey("Sessions should never overlap", func() {
					So(eventually(func() bool { return len(b.Clients()) == 3 }), ShouldBeTrue)
					mu.Lock()
					defer mu.Unlock()
					for _, live := range overlap {
						So(live, ShouldEqual, 1)
					}
				})
			})

			Convey("When the broker refuses the connection", func() {
				configure = func(attempt int, client *broker.Client) {
					if attempt == 0 {
						client.ConnectResult = types.NewReasonError(types.NotAuthorized, nil)
					}
				}
				o := newOrchestrator()
				r := start(o)
				defer r.stop()
				Convey("It should retry", func() {
					So(eventually(func() bool { return len(b.Clients()) == 2 && o.State() == StateConnected }), ShouldBeTrue)
					So(r.finished(), ShouldBeFalse)
				})
			})

			Convey("When the connection is lost while receiving", func() {
				configure = func(attempt int, client *broker.Client) {
					if attempt == 0 {
						client.Deliver("topicfeed", []byte("hello"))
						client.Fail(types.NewReasonError(types.NetworkError, nil))
					}
				}
				o := newOrchestrator()
				r := start(o)
				defer r.stop()
				Convey("It should rebuild the whole chain", func() {
					So(eventually(func() bool { return len(b.Clients()) == 2 && manager.State() == session.StateReceiving }), ShouldBeTrue)
					So(s.Stats().DNSQueries, ShouldEqual, 2)
					So(s.Stats().Dials, ShouldEqual, 2)
					So(b.Clients()[0].Stats().Closed, ShouldBeTrue)
					So(b.Clients()[1].Stats().Connects, ShouldEqual, 1)
				})
				Convey("Sessions should never overlap", func() {
					So(eventually(func() bool { return len(b.Clients()) == 2 }), ShouldBeTrue)
					mu.Lock()
					defer mu.Unlock()
					for _, live := range overlap {
						So(live, ShouldEqual, 1)
					}
				})
			})

			Convey("When an inbound payload exceeds capacity", func() {
				configure = func(attempt int, client *broker.Client) {
					client.Deliver("topicfeed", make([]byte, 5000))
				}
				o := newOrchestrator()
				r := start(o)
				Convey("Run should return a fatal error", func() {
					So(eventually(r.finished), ShouldBeTrue)
					So(types.IsFatal(r.err), ShouldBeTrue)
					So(len(b.Clients()), ShouldEqual, 1)
					So(o.LiveSessions(), ShouldEqual, 0)
				})
				r.stop()
			})

			Convey("When the trust anchor is invalid", func() {
				cfg.TrustAnchor = []byte("not a certificate")
				o := newOrchestrator()
				r := start(o)
				Convey("Run should return a fatal error", func() {
					So(eventually(r.finished), ShouldBeTrue)
					So(types.IsFatal(r.err), ShouldBeTrue)
					So(errors.Is(r.err, secure.ErrSetup), ShouldBeTrue)
				})
				Convey("No application session should have been started", func() {
					So(eventually(r.finished), ShouldBeTrue)
					So(b.Clients(), ShouldBeEmpty)
					So(netstack.LiveSockets(), ShouldEqual, sockets)
				})
				r.stop()
			})
		})
	})
}

func TestStage(t *testing.T) {
	Convey("Given errors from the different stages", t, func() {
		So(stage(nil), ShouldEqual, "ok")
		So(stage(secure.ErrResolve), ShouldEqual, "dns")
		So(stage(secure.ErrConnect), ShouldEqual, "connect")
		So(stage(types.Fatal(secure.ErrSetup)), ShouldEqual, "tls")
		So(stage(secure.ErrHandshake), ShouldEqual, "tls")
		So(stage(session.ErrReconnect), ShouldEqual, "mqtt")
		So(stage(session.ErrRejected), ShouldEqual, "mqtt")
		So(stage(errors.New("other")), ShouldEqual, "other")
	})
}
