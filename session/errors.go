// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import "errors"

// Errors returned by the session manager. Use errors.Is to check for them.
var (
	// ErrReconnect is returned when the session was lost because of a network error.
	// The whole connection must be rebuilt.
	ErrReconnect = errors.New("session: network error, reconnect")

	// ErrRejected is returned when the broker refused the connection for another reason.
	ErrRejected = errors.New("session: connection rejected")

	// ErrSubscribeFailed is returned when the broker did not accept the subscription.
	ErrSubscribeFailed = errors.New("session: subscribe failed")
)
