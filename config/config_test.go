// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package config

import (
	"crypto/tls"
	"errors"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/TheThingsNetwork/connector-client/types"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func TestParsePort(t *testing.T) {
	Convey("Given port texts", t, func() {
		port, err := ParsePort("8883")
		So(err, ShouldBeNil)
		So(port, ShouldEqual, 8883)

		_, err = ParsePort("eighty")
		So(errors.Is(err, ErrInvalid), ShouldBeTrue)

		_, err = ParsePort("70000")
		So(errors.Is(err, ErrInvalid), ShouldBeTrue)
	})
}

func TestParseTLSVersion(t *testing.T) {
	Convey("Given TLS version texts", t, func() {
		v, err := ParseTLSVersion("")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, tls.VersionTLS12)

		v, err = ParseTLSVersion("TLS1.3")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, tls.VersionTLS13)

		_, err = ParseTLSVersion("2.0")
		So(errors.Is(err, ErrInvalid), ShouldBeTrue)
	})
}

func TestLoad(t *testing.T) {
	Convey("Given a viper with a valid configuration", t, func() {
		v := viper.New()
		v.Set("broker-host", "broker.example.com")
		v.Set("broker-port", "8883")
		v.Set("username", "device")
		v.Set("password", "secret")

		Convey("When loading the configuration", func() {
			cfg, err := Load(v)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("The defaults should be filled in", func() {
				So(cfg.Broker.Port, ShouldEqual, 8883)
				So(cfg.Broker.Topics, ShouldResemble, []string{"topicfeed"})
				So(cfg.Broker.MaxPacketSize, ShouldEqual, 4096)
				So(cfg.Broker.ClientID, ShouldStartWith, "client-")
				So(cfg.TLS.MinVersion, ShouldEqual, tls.VersionTLS12)
				So(string(cfg.TLS.TrustAnchor), ShouldContainSubstring, "BEGIN CERTIFICATE")
			})
		})

		Convey("When the port is malformed", func() {
			v.Set("broker-port", "88x3")
			_, err := Load(v)
			Convey("There should be a fatal error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, ErrInvalid), ShouldBeTrue)
			})
		})

		Convey("When the client id does not fit", func() {
			v.Set("client-id", strings.Repeat("x", MaxIdentifierLength+1))
			_, err := Load(v)
			Convey("There should be a fatal capacity error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
			})
		})

		Convey("When the network name fits exactly", func() {
			v.Set("network-name", strings.Repeat("n", MaxNetworkNameLength))
			v.Set("network-secret", strings.Repeat("s", MaxNetworkSecretLength))
			_, err := Load(v)
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When the network name does not fit", func() {
			v.Set("network-name", strings.Repeat("n", MaxNetworkNameLength+1))
			_, err := Load(v)
			Convey("There should be a fatal capacity error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
			})
		})

		Convey("When the network secret does not fit", func() {
			v.Set("network-secret", strings.Repeat("s", MaxNetworkSecretLength+1))
			_, err := Load(v)
			Convey("There should be a fatal capacity error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
			})
		})

		Convey("When the max subscribe QoS is out of range", func() {
			v.Set("max-subscribe-qos", 258)
			_, err := Load(v)
			Convey("There should be a fatal error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
				So(errors.Is(err, ErrInvalid), ShouldBeTrue)
			})
		})

		Convey("When the max subscribe QoS is negative", func() {
			v.Set("max-subscribe-qos", -1)
			_, err := Load(v)
			Convey("There should be a fatal error", func() {
				So(errors.Is(err, ErrInvalid), ShouldBeTrue)
			})
		})

		Convey("When there are too many topics", func() {
			v.Set("topics", []string{"a", "b", "c", "d", "e", "f"})
			_, err := Load(v)
			Convey("There should be a fatal capacity error", func() {
				So(errors.Is(err, types.ErrCapacityExceeded), ShouldBeTrue)
			})
		})

		Convey("When a root CA file is configured", func() {
			f, err := ioutil.TempFile("", "roots")
			So(err, ShouldBeNil)
			defer os.Remove(f.Name())
			f.WriteString("-----BEGIN CERTIFICATE-----\n")
			f.Close()
			v.Set("root-ca-file", f.Name())
			cfg, err := Load(v)
			Convey("The trust anchor should be read from the file", func() {
				So(err, ShouldBeNil)
				So(string(cfg.TLS.TrustAnchor), ShouldEqual, "-----BEGIN CERTIFICATE-----\n")
			})
		})

		Convey("When the root CA file does not exist", func() {
			v.Set("root-ca-file", "/does/not/exist.pem")
			_, err := Load(v)
			Convey("There should be a fatal error", func() {
				So(types.IsFatal(err), ShouldBeTrue)
			})
		})
	})
}
