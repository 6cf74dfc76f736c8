// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package netstack

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/connector-client/buffer"
	"github.com/TheThingsNetwork/connector-client/types"
)

var liveSockets int64

// LiveSockets returns the number of sockets that have been opened and not yet closed
func LiveSockets() int64 {
	return atomic.LoadInt64(&liveSockets)
}

// Socket is a stream socket with an idle timeout. Writes are staged through a
// fixed-capacity transmit buffer.
type Socket struct {
	net.Conn
	timeout  time.Duration
	readIdle int32

	txMu sync.Mutex
	tx   *buffer.Arena

	closeOnce sync.Once
	closeErr  error
}

// NewSocket wraps conn. Every read and write must complete within timeout of the
// previous activity; a zero timeout disables the idle timer. Reads stop being timed
// after SetReadIdle(false).
func NewSocket(conn net.Conn, timeout time.Duration, txSize int) (*Socket, error) {
	if txSize <= 0 {
		return nil, fmt.Errorf("%w: transmit buffer of %d bytes", types.ErrCapacityExceeded, txSize)
	}
	atomic.AddInt64(&liveSockets, 1)
	return &Socket{
		Conn:     conn,
		timeout:  timeout,
		readIdle: 1,
		tx:       buffer.New(txSize),
	}, nil
}

// SetReadIdle enables or disables the idle timeout on reads. Disabling it clears any
// pending read deadline, so that a quiet peer is waited for indefinitely. Writes stay timed.
func (s *Socket) SetReadIdle(enabled bool) error {
	if enabled {
		atomic.StoreInt32(&s.readIdle, 1)
		return nil
	}
	atomic.StoreInt32(&s.readIdle, 0)
	return s.Conn.SetReadDeadline(time.Time{})
}

// ReadIdle returns whether reads are subject to the idle timeout
func (s *Socket) ReadIdle() bool {
	return atomic.LoadInt32(&s.readIdle) == 1
}

func (s *Socket) deadline() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.timeout)
}

// Read from the socket
func (s *Socket) Read(p []byte) (int, error) {
	if s.ReadIdle() {
		if err := s.Conn.SetReadDeadline(s.deadline()); err != nil {
			return 0, err
		}
	}
	return s.Conn.Read(p)
}

// Write to the socket
func (s *Socket) Write(p []byte) (written int, err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for len(p) > 0 {
		chunk := p
		if len(chunk) > s.tx.Available() {
			chunk = chunk[:s.tx.Available()]
		}
		if _, err = s.tx.Write(chunk); err != nil {
			return written, err
		}
		if err = s.flush(); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (s *Socket) flush() error {
	defer s.tx.Reset()
	if err := s.Conn.SetWriteDeadline(s.deadline()); err != nil {
		return err
	}
	_, err := s.Conn.Write(s.tx.Bytes())
	return err
}

// Close the socket. Closing an already closed socket returns the first result.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		atomic.AddInt64(&liveSockets, -1)
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}
