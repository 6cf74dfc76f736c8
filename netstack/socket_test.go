// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package netstack

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/TheThingsNetwork/connector-client/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSocket(t *testing.T) {
	Convey("Given a Socket over a pipe", t, func() {
		live := LiveSockets()
		client, server := net.Pipe()
		defer server.Close()
		socket, err := NewSocket(client, 20*time.Millisecond, 16)
		So(err, ShouldBeNil)

		Convey("It should be counted as live", func() {
			So(LiveSockets(), ShouldEqual, live+1)
		})

		Convey("When writing more than the transmit buffer", func() {
			payload := bytes.Repeat([]byte("0123456789"), 10)
			received := make(chan []byte, 1)
			go func() {
				buf := make([]byte, len(payload))
				io.ReadFull(server, buf)
				received <- buf
			}()
			n, err := socket.Write(payload)
			Convey("It should be written in chunks without truncation", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, len(payload))
				So(<-received, ShouldResemble, payload)
			})
		})

		Convey("When nothing is received within the idle timeout", func() {
			_, err := socket.Read(make([]byte, 1))
			Convey("Read should fail with a timeout", func() {
				netErr, ok := err.(net.Error)
				So(ok, ShouldBeTrue)
				So(netErr.Timeout(), ShouldBeTrue)
			})
		})

		Convey("When the read idle timeout is disabled", func() {
			So(socket.SetReadIdle(false), ShouldBeNil)
			So(socket.ReadIdle(), ShouldBeFalse)
			read := make(chan error, 1)
			go func() {
				_, err := socket.Read(make([]byte, 1))
				read <- err
			}()
			Convey("Read should keep waiting past the idle timeout", func() {
				returned := false
				select {
				case <-read:
					returned = true
				case <-time.After(100 * time.Millisecond):
				}
				So(returned, ShouldBeFalse)
				if !returned {
					go server.Write([]byte{0x42})
					So(<-read, ShouldBeNil)
				}
			})
			Convey("Writes should still be timed", func() {
				_, err := socket.Write([]byte("nobody reads this"))
				netErr, ok := err.(net.Error)
				So(ok, ShouldBeTrue)
				So(netErr.Timeout(), ShouldBeTrue)
				socket.Close()
				<-read
			})
		})

		Convey("When closing the socket twice", func() {
			So(socket.Close(), ShouldBeNil)
			So(socket.Close(), ShouldBeNil)
			Convey("It should no longer be counted", func() {
				So(LiveSockets(), ShouldEqual, live)
			})
		})

		Reset(func() {
			socket.Close()
		})
	})

	Convey("Given a connection", t, func() {
		client, server := net.Pipe()
		defer server.Close()
		defer client.Close()
		live := LiveSockets()

		Convey("When creating a Socket without transmit buffer", func() {
			socket, err := NewSocket(client, time.Second, 0)
			Convey("There should be a capacity error", func() {
				So(socket, ShouldBeNil)
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
				So(LiveSockets(), ShouldEqual, live)
			})
		})
	})
}
