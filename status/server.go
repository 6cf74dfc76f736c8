// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package status

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/apex/log"
)

// ShutdownTimeout is the time given to open requests when the server stops
var ShutdownTimeout = 5 * time.Second

// ListenAndServe serves the default status server on addr until ctx is done
func ListenAndServe(ctx context.Context, addr string, logger log.Interface) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, lis, logger)
}

// Serve the default status server on lis until ctx is done
func Serve(ctx context.Context, lis net.Listener, logger log.Interface) error {
	logger = logger.WithField("Component", "Status")
	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.WithField("Address", lis.Addr().String()).Info("Serving status")
	if err := srv.Serve(lis); err != http.ErrServerClosed {
		return err
	}
	return nil
}
