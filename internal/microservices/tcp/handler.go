package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"turbine/internal/content"
	"turbine/internal/metrics"
	"turbine/internal/protocol/httpwire"
	"turbine/internal/resolver"
)

// Handler processes one accepted connection. The server closes the connection
// once ServeConn returns, so implementations need not.
type Handler interface {
	ServeConn(ctx context.Context, c *ClientConnection) error
}

// Refuser is implemented by handlers that tell the peer why admission control
// turned it away before the connection is closed.
type Refuser interface {
	Refuse(c *ClientConnection, reason string)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, c *ClientConnection) error

func (f HandlerFunc) ServeConn(ctx context.Context, c *ClientConnection) error {
	return f(ctx, c)
}

var ErrStreamTooLong = errors.New("byte stream exceeds drain limit")

const lingerTimeout = 500 * time.Millisecond

// DrainHandler accepts the byte stream, discards it and closes. It speaks no
// protocol and is useful to validate the listener on its own.
type DrainHandler struct {
	// MaxBytes caps how much is read before giving up; zero means no cap.
	MaxBytes int64
}

func (h DrainHandler) ServeConn(_ context.Context, c *ClientConnection) error {
	var src io.Reader = c.Reader
	if h.MaxBytes > 0 {
		src = io.LimitReader(c.Reader, h.MaxBytes+1)
	}
	n, err := io.Copy(io.Discard, src)
	if err != nil {
		return fmt.Errorf("drain after %d bytes: %w", n, err)
	}
	if h.MaxBytes > 0 && n > h.MaxBytes {
		return ErrStreamTooLong
	}
	return nil
}

// StaticHandler answers one HTTP/1.1 request per connection with a file from
// the document root.
type StaticHandler struct {
	resolver       *resolver.Resolver
	loader         *content.Loader
	maxRequestSize int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewStaticHandler(r *resolver.Resolver, l *content.Loader, maxRequestSize int, m *metrics.Metrics, logger *slog.Logger) *StaticHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &StaticHandler{
		resolver:       r,
		loader:         l,
		maxRequestSize: maxRequestSize,
		metrics:        m,
		logger:         logger,
	}
}

func (h *StaticHandler) ServeConn(_ context.Context, c *ClientConnection) error {
	start := time.Now()
	req, err := httpwire.ReadRequest(c.Reader, h.maxRequestSize)
	if err != nil {
		if isClosedConnErr(err) {
			return err
		}
		status := httpwire.StatusForError(err)
		if isTimeout(err) {
			status = http.StatusRequestTimeout
		}
		h.respond(c, httpwire.ErrorResponse(status))
		h.lingerClose(c)
		return fmt.Errorf("failed to read request: %w", err)
	}

	if req.Method == httpwire.MethodPost {
		h.discardBody(c, req)
	}

	resp := h.serve(req)
	h.logger.Info("request_served",
		"client_id", c.ID,
		"method", string(req.Method),
		"target", req.Target,
		"status", resp.StatusCode,
	)
	if err := h.respond(c, resp); err != nil {
		return err
	}
	h.metrics.RequestServed(start)
	return nil
}

func (h *StaticHandler) serve(req *httpwire.Request) *httpwire.Response {
	path, err := h.resolver.Resolve(req.Target)
	if err != nil {
		if errors.Is(err, resolver.ErrBadEscape) {
			return httpwire.ErrorResponse(http.StatusBadRequest)
		}
		return httpwire.ErrorResponse(http.StatusForbidden)
	}

	res, err := h.loader.Load(path)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return httpwire.ErrorResponse(http.StatusNotFound)
		}
		h.logger.Error("resource_load_failed", "path", path, "error", err.Error())
		return httpwire.ErrorResponse(http.StatusInternalServerError)
	}

	return &httpwire.Response{StatusCode: http.StatusOK, ContentType: res.ContentType, Body: res.Body}
}

// discardBody reads a small declared body so closing the socket with unread
// input does not reset the connection before the response arrives.
func (h *StaticHandler) discardBody(c *ClientConnection, req *httpwire.Request) {
	n, err := strconv.ParseInt(req.Header["content-length"], 10, 64)
	if err != nil || n <= 0 || n > int64(h.maxRequestSize) {
		return
	}
	io.CopyN(io.Discard, c.Reader, n)
}

func (h *StaticHandler) Refuse(c *ClientConnection, reason string) {
	h.logger.Debug("connection_refused_response", "client_id", c.ID, "reason", reason)
	h.respond(c, httpwire.ErrorResponse(http.StatusServiceUnavailable))
	h.lingerClose(c)
}

// lingerClose sends FIN and discards what the peer already sent, so closing
// with unread input does not reset the connection before the response is read.
// The whole drain shares one deadline; a peer trickling bytes cannot extend it.
func (h *StaticHandler) lingerClose(c *ClientConnection) {
	if err := c.CloseWrite(); err != nil {
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.CopyN(io.Discard, c.conn, int64(h.maxRequestSize))
}

func (h *StaticHandler) respond(c *ClientConnection, resp *httpwire.Response) error {
	if err := resp.Write(c); err != nil {
		return err
	}
	h.metrics.ResponseWritten(resp.StatusCode)
	return nil
}
