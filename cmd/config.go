// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"strings"

	clientconfig "github.com/TheThingsNetwork/connector-client/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix that is used for configuration, so that
// --broker-host can also be set with CLIENT_BROKER_HOST
const EnvPrefix = "client"

var cfgFile string

var config = viper.GetViper()

func initConfig() {
	config.SetEnvPrefix(EnvPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	config.AutomaticEnv()
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
		if err := config.ReadInConfig(); err != nil {
			fmt.Println("Error when reading config file:", err)
		} else {
			fmt.Println("Using config file:", config.ConfigFileUsed())
		}
	}
}

func registerFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-file", "", "Location of the log file")
	cmd.PersistentFlags().Bool("debug", false, "Print debug logs")

	cmd.Flags().String("link-driver", "netif", "Link driver (netif or dummy)")
	cmd.Flags().String("link-interface", "eth0", "Network interface of the link")
	cmd.Flags().String("network-name", "", "Name of the network to associate to")
	cmd.Flags().String("network-secret", "", "Secret of the network to associate to")
	cmd.Flags().String("dns-server", "", "DNS server host and port (default from /etc/resolv.conf)")

	cmd.Flags().String("broker-host", "", "MQTT broker host")
	cmd.Flags().String("broker-port", "8883", "MQTT broker port")
	cmd.Flags().String("client-id", "", "MQTT client identifier (default client-<uuid>)")
	cmd.Flags().String("username", "", "MQTT username")
	cmd.Flags().String("password", "", "MQTT password")
	cmd.Flags().StringSlice("topics", clientconfig.DefaultTopics, "Topics to subscribe to")
	cmd.Flags().Int("max-subscribe-qos", 2, "Maximum QoS of the subscriptions")
	cmd.Flags().Int("max-packet-size", clientconfig.DefaultMaxPacketSize, "Maximum size of MQTT packets")

	cmd.Flags().String("root-ca-file", "", "Location of the file containing Root CA certificates (default built-in trust anchor)")
	cmd.Flags().String("tls-min-version", "1.2", "Minimum TLS version")
	cmd.Flags().Bool("tls-handshake-fatal", true, "Stop when the TLS handshake fails")

	cmd.Flags().String("status-address", "", "Address of the HTTP status server (disabled when empty)")
	cmd.Flags().StringSlice("status-access-keys", nil, "Access keys for the status server")

	cmd.Flags().String("redis-address", "", "Redis host and port of the message sink (disabled when empty)")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().String("redis-key", "connector-client:messages", "Redis key of the message history")

	cmd.Flags().String("amqp-address", "", "AMQP URL of the message sink (disabled when empty)")
	cmd.Flags().String("amqp-exchange", "amq.topic", "AMQP exchange of the message sink")

	config.BindPFlags(cmd.Flags())
	config.BindPFlags(cmd.PersistentFlags())
}
