package client

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneShotServer answers the first request it reads with raw, then closes.
func oneShotServer(t *testing.T, raw string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	requestLine := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		requestLine <- line
		io.WriteString(conn, raw)
	}()
	return ln.Addr().String(), requestLine
}

func TestProbe(t *testing.T) {
	addr, requestLine := oneShotServer(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=UTF-8\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")

	result, err := NewTCPClient(addr, 2*time.Second).Probe("/index.html")
	require.NoError(t, err)

	assert.Equal(t, "GET /index.html HTTP/1.1\r\n", <-requestLine)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "200 OK", result.Status)
	assert.Equal(t, "text/html; charset=UTF-8", result.ContentType)
	assert.Equal(t, int64(5), result.BodyBytes)
	assert.Positive(t, result.Latency)
}

func TestProbe_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewTCPClient(addr, time.Second).Probe("/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
}

func TestProbe_GarbageResponse(t *testing.T) {
	addr, _ := oneShotServer(t, "not http at all\r\n\r\n")

	_, err := NewTCPClient(addr, time.Second).Probe("/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read response")
}
