package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"turbine/internal/metrics"
)

var (
	ErrNotListening = errors.New("tcp server is not listening")
	ErrServerClosed = errors.New("tcp server closed")
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
	refuseTimeout    = time.Second
	// refusals explained concurrently; past this the connection is just closed
	maxConcurrentRefusals = 64
)

// Options configures a TCPServer. Zero values for the limits disable them.
type Options struct {
	Addr    string
	Handler Handler
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// MaxConnections caps simultaneously open connections.
	MaxConnections int
	// WorkerCount sizes the handler pool; zero starts one goroutine per connection.
	WorkerCount int
	// AcceptRate limits accepted connections per second, with AcceptBurst headroom.
	AcceptRate  float64
	AcceptBurst int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// server struct and methods
type TCPServer struct {
	Addr    string
	Manager *ConnectionManager
	// owned exclusively by the accept loop and Stop
	listener net.Listener
	opts     Options
	handler  Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	pool     *WorkerPool
	refusing chan struct{} // semaphore bounding Refuser goroutines

	mu        sync.Mutex
	serving   atomic.Bool
	quitChan  chan struct{} // closed when Stop begins
	stopped   chan struct{} // closed when Stop has finished
	stopOnce  sync.Once
	accepting sync.WaitGroup // running accept loops
	wg        sync.WaitGroup // per-connection goroutines outside the pool
}

// constructor for Server
func NewServer(opts Options) *TCPServer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Handler == nil {
		opts.Handler = DrainHandler{}
	}

	s := &TCPServer{
		Addr:     opts.Addr,
		Manager:  NewConnectionManager(opts.Logger, opts.Metrics),
		opts:     opts,
		handler:  opts.Handler,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		refusing: make(chan struct{}, maxConcurrentRefusals),
		quitChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return s
}

// Listen binds the listening socket. Failing to bind is the caller's cue to
// exit; nothing else has been started yet.
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	s.logger.Info("tcp_server_listening", "addr", ln.Addr().String())
	return nil
}

// ListenAddr reports the bound address, or nil before Listen.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serving reports whether the accept loop is running.
func (s *TCPServer) Serving() bool {
	return s.serving.Load()
}

// Start binds and serves until ctx is cancelled or Stop is called.
func (s *TCPServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop on the bound listener. It returns nil after a
// clean shutdown, triggered either by ctx or by Stop.
func (s *TCPServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	select {
	case <-s.quitChan:
		s.mu.Unlock()
		return ErrServerClosed
	default:
	}
	if s.opts.WorkerCount > 0 && s.pool == nil {
		s.pool = NewWorkerPool(ctx, s.opts.WorkerCount, s.logger)
		s.pool.Start()
	}
	pool := s.pool
	s.accepting.Add(1)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.quitChan:
		}
	}()

	s.serving.Store(true)
	s.logger.Info("tcp_server_started", "addr", ln.Addr().String(), "workers", s.opts.WorkerCount)

	err := s.acceptLoop(ctx, ln, pool)
	s.accepting.Done()
	if err != nil {
		s.serving.Store(false)
		return err
	}
	<-s.stopped
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener, pool *WorkerPool) error {
	backoff := time.Duration(0)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed unexpectedly: %w", err)
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.logger.Warn("accept_failed", "error", err.Error(), "retry_in", backoff.String())
			select {
			case <-time.After(backoff):
			case <-s.quitChan:
			}
			continue
		}
		backoff = 0
		s.dispatch(ctx, conn, pool)
	}
}

// dispatch applies admission control and hands conn to the pool without
// blocking the accept loop.
func (s *TCPServer) dispatch(ctx context.Context, conn net.Conn, pool *WorkerPool) {
	client := NewClientConnection(conn, s.opts.ReadTimeout, s.opts.WriteTimeout)
	s.metrics.ConnectionAccepted()

	if reason := s.admit(); reason != "" {
		s.refuse(client, reason)
		return
	}

	s.Manager.AddConnection(client)
	task := func(taskCtx context.Context) error {
		s.handleConnection(taskCtx, client)
		return nil
	}

	if pool == nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			task(ctx)
		}()
		return
	}
	if !pool.TrySubmit(task) {
		s.Manager.RemoveConnection(client)
		s.refuse(client, metrics.ReasonPoolSaturated)
	}
}

func (s *TCPServer) admit() string {
	select {
	case <-s.quitChan:
		return metrics.ReasonShuttingDown
	default:
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return metrics.ReasonRateLimited
	}
	// only the accept loop adds connections, so check-then-add cannot overshoot
	if s.opts.MaxConnections > 0 && s.Manager.Count() >= s.opts.MaxConnections {
		return metrics.ReasonMaxConnections
	}
	return ""
}

// refuse closes client off the accept goroutine, letting the handler explain
// first if it knows how.
func (s *TCPServer) refuse(client *ClientConnection, reason string) {
	s.metrics.ConnectionRefused(reason)
	s.logger.Warn("connection_refused",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr(),
		"reason", reason,
	)

	refuser, ok := s.handler.(Refuser)
	if !ok {
		client.Close()
		return
	}
	select {
	case s.refusing <- struct{}{}:
	default:
		s.logger.Debug("refusal_backlog_full", "client_id", client.ID)
		client.Close()
		return
	}
	client.readTimeout, client.writeTimeout = refuseTimeout, refuseTimeout
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.refusing }()
		defer client.Close()
		refuser.Refuse(client, reason)
	}()
}

// handle connections/lifecycle of single client connection
func (s *TCPServer) handleConnection(ctx context.Context, client *ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.HandlerPanicked()
			s.logger.Error("handler_panic",
				"client_id", client.ID,
				"panic", fmt.Sprint(r),
			)
		}
		client.Close()
		s.Manager.RemoveConnection(client)
	}()

	err := s.handler.ServeConn(ctx, client)
	switch {
	case err == nil:
	case isClosedConnErr(err):
		s.logger.Debug("client_disconnected", "client_id", client.ID)
	case isTimeout(err):
		s.logger.Info("client_read_timeout", "client_id", client.ID)
	default:
		s.logger.Warn("connection_error",
			"client_id", client.ID,
			"remote_addr", client.RemoteAddr(),
			"error", err.Error(),
		)
	}
}

// Stop closes the listener and every open connection, then waits up to
// ShutdownTimeout for handlers to return. It is safe to call more than once.
func (s *TCPServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		defer close(s.stopped)

		s.mu.Lock()
		close(s.quitChan) // signal all goroutines to shutdown
		if s.listener != nil {
			err = s.listener.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		pool := s.pool
		s.mu.Unlock()
		s.serving.Store(false)

		// no dispatch can run past this point
		s.accepting.Wait()

		closed := s.Manager.CloseAllConnections()
		s.logger.Info("tcp_server_stopping", "closed_connections", closed)

		done := make(chan struct{})
		go func() {
			if pool != nil {
				pool.Shutdown()
			}
			s.wg.Wait()
			close(done)
		}()

		if s.opts.ShutdownTimeout <= 0 {
			<-done
		} else {
			select {
			case <-done:
			case <-time.After(s.opts.ShutdownTimeout):
				s.logger.Warn("shutdown_timeout", "timeout", s.opts.ShutdownTimeout.String())
			}
		}
		s.logger.Info("tcp_server_stopped")
	})
	<-s.stopped
	return err
}
