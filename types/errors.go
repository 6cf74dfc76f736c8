// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"errors"
	"fmt"
)

// ReasonCode classifies the outcome of a pub/sub operation. Values follow the MQTT
// CONNACK return codes, extended with NetworkError and ProtocolViolation.
type ReasonCode byte

// Reason codes
const (
	Success               ReasonCode = 0x00
	BadProtocolVersion    ReasonCode = 0x01
	IdentifierRejected    ReasonCode = 0x02
	ServerUnavailable     ReasonCode = 0x03
	BadUsernameOrPassword ReasonCode = 0x04
	NotAuthorized         ReasonCode = 0x05
	UnspecifiedError      ReasonCode = 0x80
	NetworkError          ReasonCode = 0xFE
	ProtocolViolation     ReasonCode = 0xFF
)

var reasonCodeNames = map[ReasonCode]string{
	Success:               "Success",
	BadProtocolVersion:    "BadProtocolVersion",
	IdentifierRejected:    "IdentifierRejected",
	ServerUnavailable:     "ServerUnavailable",
	BadUsernameOrPassword: "BadUsernameOrPassword",
	NotAuthorized:         "NotAuthorized",
	UnspecifiedError:      "UnspecifiedError",
	NetworkError:          "NetworkError",
	ProtocolViolation:     "ProtocolViolation",
}

func (c ReasonCode) String() string {
	if name, ok := reasonCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ReasonCode(0x%02x)", byte(c))
}

// ReasonError is returned by the pub/sub layer when an operation did not succeed
type ReasonError struct {
	Code ReasonCode
	Err  error
}

func (e *ReasonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *ReasonError) Unwrap() error { return e.Err }

// NewReasonError returns a ReasonError for the given code
func NewReasonError(code ReasonCode, err error) *ReasonError {
	return &ReasonError{Code: code, Err: err}
}

// Reason extracts the ReasonCode from err. Errors that do not carry a reason code are
// reported as UnspecifiedError, nil as Success.
func Reason(err error) ReasonCode {
	if err == nil {
		return Success
	}
	var reason *ReasonError
	if errors.As(err, &reason) {
		return reason.Code
	}
	return UnspecifiedError
}

// ErrCapacityExceeded is returned when a write does not fit in a fixed-capacity buffer
var ErrCapacityExceeded = errors.New("Capacity exceeded")

type fatalError struct {
	err error
}

func (e fatalError) Error() string { return "fatal: " + e.err.Error() }

func (e fatalError) Unwrap() error { return e.err }

// Fatal marks err as unrecoverable. A fatal error stops the process.
func Fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return fatalError{err}
}

// IsFatal returns whether err (or any error it wraps) was marked with Fatal
func IsFatal(err error) bool {
	var fatal fatalError
	return errors.As(err, &fatal)
}
