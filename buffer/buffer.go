// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package buffer implements fixed-capacity byte arenas.
//
// An Arena never grows. A write that does not fit in the remaining capacity fails with
// types.ErrCapacityExceeded and leaves the arena unchanged.
package buffer

import (
	"fmt"

	"github.com/TheThingsNetwork/connector-client/types"
)

// DefaultSize of the socket and session buffers
const DefaultSize = 4096

// Arena is a fixed-capacity byte buffer
type Arena struct {
	buf []byte
	n   int
}

// New returns an Arena with the given capacity
func New(capacity int) *Arena {
	return &Arena{buf: make([]byte, capacity)}
}

// Cap returns the capacity of the arena
func (a *Arena) Cap() int { return len(a.buf) }

// Len returns the number of bytes written since the last Reset
func (a *Arena) Len() int { return a.n }

// Available returns the remaining capacity
func (a *Arena) Available() int { return len(a.buf) - a.n }

// Bytes returns the written bytes. The slice is only valid until the next Write or Reset.
func (a *Arena) Bytes() []byte { return a.buf[:a.n] }

// Reset empties the arena
func (a *Arena) Reset() { a.n = 0 }

// Write appends p, or fails without writing anything if p does not fit
func (a *Arena) Write(p []byte) (int, error) {
	if len(p) > a.Available() {
		return 0, fmt.Errorf("%w: %d bytes do not fit in %d of %d", types.ErrCapacityExceeded, len(p), a.Available(), a.Cap())
	}
	a.n += copy(a.buf[a.n:], p)
	return len(p), nil
}

// WriteString appends s, or fails without writing anything if s does not fit
func (a *Arena) WriteString(s string) (int, error) {
	return a.Write([]byte(s))
}

// Set replaces the contents of the arena with p
func (a *Arena) Set(p []byte) error {
	a.Reset()
	_, err := a.Write(p)
	return err
}

// CheckFits returns an error if a value of the given size can not be stored in capacity bytes
func CheckFits(what string, size, capacity int) error {
	if size > capacity {
		return fmt.Errorf("%w: %s is %d bytes, capacity is %d", types.ErrCapacityExceeded, what, size, capacity)
	}
	return nil
}
