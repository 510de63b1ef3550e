package client

// tcp_client.go = one-shot client used by `turbine probe` to check a running server.

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ProbeResult is what a single request/response exchange observed.
type ProbeResult struct {
	Status      string
	StatusCode  int
	ContentType string
	BodyBytes   int64
	Latency     time.Duration
}

// TCPClient sends one HTTP/1.1 request per connection, the way turbine serves them.
type TCPClient struct {
	serverAddr string
	timeout    time.Duration
}

func NewTCPClient(serverAddr string, timeout time.Duration) *TCPClient {
	return &TCPClient{serverAddr: serverAddr, timeout: timeout}
}

// Probe connects, sends GET path and reads the full response.
func (c *TCPClient) Probe(path string) (*ProbeResult, error) {
	start := time.Now()

	conn, err := net.DialTimeout("tcp", c.serverAddr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", path, c.serverAddr)
	if _, err := io.WriteString(conn, request); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &ProbeResult{
		Status:      resp.Status,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		BodyBytes:   n,
		Latency:     time.Since(start),
	}, nil
}
