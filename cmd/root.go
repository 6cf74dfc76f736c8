// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	clientconfig "github.com/TheThingsNetwork/connector-client/config"
	"github.com/TheThingsNetwork/connector-client/link"
	linkdummy "github.com/TheThingsNetwork/connector-client/link/dummy"
	"github.com/TheThingsNetwork/connector-client/link/netif"
	"github.com/TheThingsNetwork/connector-client/netstack"
	"github.com/TheThingsNetwork/connector-client/orchestrator"
	"github.com/TheThingsNetwork/connector-client/secure"
	"github.com/TheThingsNetwork/connector-client/session"
	"github.com/TheThingsNetwork/connector-client/sink"
	"github.com/TheThingsNetwork/connector-client/status"
	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/spf13/cobra"
	redis "gopkg.in/redis.v5"
)

// ClientCmd is the main command that is executed when running connector-client
var ClientCmd = &cobra.Command{
	Use:   "connector-client",
	Short: "The Things Network's Connector client",
	Long:  `connector-client keeps a secure MQTT session to a broker alive and consumes the messages on its topics`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Run: runClient,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogging()
	},
}

func newDriver(cfg *clientconfig.Config) link.Driver {
	switch cfg.Link.Driver {
	case "", "netif":
		ctx.WithField("Interface", cfg.Link.Interface).Info("Initializing interface link")
		return netif.New(cfg.Link.Interface, ctx)
	case "dummy":
		ctx.Info("Initializing dummy link")
		return linkdummy.New(ctx)
	}
	ctx.WithField("Driver", cfg.Link.Driver).Fatal("Unknown link driver")
	return nil
}

func newSink(cfg *clientconfig.Config) sink.Multi {
	sinks := sink.Multi{sink.NewLog(ctx)}

	if address := cfg.Sinks.RedisAddress; address != "" {
		ctx.WithField("Address", address).Info("Initializing Redis sink")
		client := redis.NewClient(&redis.Options{
			Addr:     address,
			Password: cfg.Sinks.RedisPassword,
			DB:       cfg.Sinks.RedisDB,
		})
		sinks = append(sinks, sink.NewRedis(client, cfg.Sinks.RedisKey, ctx))
	}

	if address := cfg.Sinks.AMQPAddress; address != "" {
		ctx.WithField("Exchange", cfg.Sinks.AMQPExchange).Info("Initializing AMQP sink")
		amqp, err := sink.NewAMQP(sink.AMQPConfig{
			Address:      address,
			ExchangeName: cfg.Sinks.AMQPExchange,
		}, ctx)
		if err != nil {
			ctx.WithError(err).Warn("Could not initialize AMQP sink")
		} else {
			sinks = append(sinks, amqp)
		}
	}

	return sinks
}

func runClient(cmd *cobra.Command, args []string) {
	cfg, err := clientconfig.Load(config)
	if err != nil {
		ctx.WithError(err).Fatal("Invalid configuration")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor := link.NewSupervisor(newDriver(cfg), link.Credentials{
		NetworkName:   cfg.Link.NetworkName,
		NetworkSecret: cfg.Link.NetworkSecret,
	}, ctx)

	stack := netstack.NewHost(netstack.HostConfig{
		Interface: cfg.Link.Interface,
		Resolver:  cfg.DNSServer,
		Link:      supervisor,
	}, ctx)

	sinks := newSink(cfg)

	builder := secure.NewBuilder(stack, secure.Config{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		TrustAnchor:    cfg.TLS.TrustAnchor,
		MinVersion:     cfg.TLS.MinVersion,
		HandshakeFatal: cfg.TLS.HandshakeFatal,
	}, ctx)

	manager := session.NewManager(session.Config{
		ClientID:        cfg.Broker.ClientID,
		Username:        cfg.Broker.Username,
		Password:        cfg.Broker.Password,
		Topics:          cfg.Broker.Topics,
		MaxSubscribeQoS: cfg.Broker.MaxSubscribeQoS,
		MaxPacketSize:   cfg.Broker.MaxPacketSize,
	}, session.NewPaho, sinks, ctx)

	client := orchestrator.New(stack, builder, manager, ctx)

	status.AddComponent("Link", func() string { return supervisor.State().String() })
	status.AddComponent("Orchestrator", func() string { return client.State().String() })
	status.AddComponent("Session", func() string { return manager.State().String() })
	for _, key := range cfg.StatusAccessKeys {
		status.AddAccessKey(key)
	}

	var wg sync.WaitGroup
	if cfg.StatusAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := status.ListenAndServe(runCtx, cfg.StatusAddress, ctx); err != nil {
				ctx.WithError(err).Warn("Status server stopped")
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		supervisor.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		stack.Run(runCtx)
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			ctx.WithField("signal", sig).Info("signal received")
			cancel()
		case <-runCtx.Done():
		}
	}()

	ctx.WithField("Broker", cfg.Broker.Host).WithField("ClientID", cfg.Broker.ClientID).Info("Starting")
	err = client.Run(runCtx)
	cancel()
	wg.Wait()

	if err := sinks.Close(); err != nil {
		ctx.WithError(err).Warn("Could not close sinks")
	}

	if types.IsFatal(err) {
		ctx.WithError(err).Fatal("Stopping because of an unrecoverable error")
	}
	ctx.Info("Stopped")
}
