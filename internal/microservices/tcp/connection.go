package tcp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ClientConnection struct {
	ID         string // unique identifier = key in manager map
	conn       net.Conn
	Reader     *bufio.Reader // buffered, deadline-refreshing view of conn
	AcceptedAt time.Time

	readTimeout  time.Duration
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// constructor for ClientConnection
func NewClientConnection(conn net.Conn, readTimeout, writeTimeout time.Duration) *ClientConnection {
	c := &ClientConnection{
		ID:           uuid.NewString(),
		conn:         conn,
		AcceptedAt:   time.Now(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	c.Reader = bufio.NewReader(deadlineReader{c})
	return c
}

func (c *ClientConnection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Write writes to the peer, refreshing the write deadline first.
func (c *ClientConnection) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.Write(p)
}

// CloseWrite half-closes the connection so the peer sees EOF while unread
// input can still be drained.
func (c *ClientConnection) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close is idempotent; the manager and the handler may both call it.
func (c *ClientConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// deadlineReader refreshes the read deadline before every read so an idle
// peer is dropped after readTimeout without a watchdog goroutine.
type deadlineReader struct {
	c *ClientConnection
}

func (r deadlineReader) Read(p []byte) (int, error) {
	if r.c.readTimeout > 0 {
		r.c.conn.SetReadDeadline(time.Now().Add(r.c.readTimeout))
	}
	return r.c.conn.Read(p)
}

// isTimeout reports a read or write deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedConnErr reports errors that only mean the peer went away or the
// connection was closed during shutdown. Windows reports these as "connection
// was aborted" / "forcibly closed", Linux as reset, broken pipe or use of a
// closed network connection.
func isClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection was aborted") ||
		strings.Contains(msg, "forcibly closed")
}
