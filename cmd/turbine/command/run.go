package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thejerf/suture/v4"

	"turbine/internal/config"
	"turbine/internal/content"
	"turbine/internal/metrics"
	"turbine/internal/microservices/admin"
	"turbine/internal/microservices/tcp"
	"turbine/internal/resolver"
)

// Run binds every socket first, then supervises the acceptor and the optional
// admin endpoint until ctx is cancelled. A bind failure returns before any
// service starts; a nil return means a clean shutdown.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)
	m := metrics.New()

	handler, err := buildHandler(cfg, m, logger)
	if err != nil {
		return err
	}

	server := tcp.NewServer(tcp.Options{
		Addr:            cfg.ListenAddr(),
		Handler:         handler,
		Logger:          logger,
		Metrics:         m,
		MaxConnections:  cfg.MaxConnections,
		WorkerCount:     cfg.WorkerCount,
		AcceptRate:      cfg.AcceptRate,
		AcceptBurst:     cfg.AcceptBurst,
		ReadTimeout:     cfg.ReadTimeout.Std(),
		WriteTimeout:    cfg.WriteTimeout.Std(),
		ShutdownTimeout: cfg.ShutdownTimeout.Std(),
	})
	if err := server.Listen(); err != nil {
		return err
	}
	defer server.Stop()

	var adminServer *admin.Server
	if cfg.AdminAddr != "" {
		if !cfg.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		adminServer = admin.NewServer(cfg.AdminAddr, admin.NewHandler(server, server.Manager, m.Handler()), logger)
		if err := adminServer.Listen(); err != nil {
			return err
		}
	}

	super := suture.New("turbine", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor_event", "event", e.String())
		},
		Timeout: cfg.ShutdownTimeout.Std() + time.Second,
	})
	acceptor := &acceptorService{server: server}
	super.Add(acceptor)
	if adminServer != nil {
		super.Add(&adminService{server: adminServer})
	}

	logger.Info("turbine_started",
		"addr", server.ListenAddr().String(),
		"handler", cfg.Handler,
		"workers", cfg.WorkerCount,
		"admin_addr", cfg.AdminAddr,
	)

	superErr := super.Serve(ctx)
	// the acceptor may still be inside its shutdown bound if the supervisor gave up waiting
	server.Stop()

	if err := acceptor.Err(); err != nil {
		logger.Error("acceptor_failed", "error", err.Error())
		return err
	}
	if ctx.Err() != nil {
		logger.Info("turbine_stopped")
		return nil
	}
	if superErr != nil {
		return fmt.Errorf("supervisor stopped: %w", superErr)
	}
	return nil
}

// buildHandler picks the connection handler named by cfg.Handler.
func buildHandler(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (tcp.Handler, error) {
	switch cfg.Handler {
	case config.HandlerDrain:
		return tcp.DrainHandler{}, nil
	case config.HandlerStatic:
		r, err := resolver.New(cfg.DocumentRoot)
		if err != nil {
			return nil, err
		}
		loader := content.NewLoader(r.DocumentRoot(), cfg.MaxFileSize)
		logger.Info("document_root", "path", r.DocumentRoot())
		return tcp.NewStaticHandler(r, loader, cfg.MaxRequestSize, m, logger), nil
	default:
		return nil, fmt.Errorf("unknown handler %q", cfg.Handler)
	}
}

// acceptorService runs the TCP accept loop under the supervisor. The listener
// cannot be rebound safely by a restart, so an accept loop failure takes the
// whole tree down and is reported through Err.
type acceptorService struct {
	server *tcp.TCPServer

	mu  sync.Mutex
	err error
}

func (a *acceptorService) Serve(ctx context.Context) error {
	err := a.server.Serve(ctx)
	if err == nil || errors.Is(err, tcp.ErrServerClosed) {
		return suture.ErrDoNotRestart
	}
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	return suture.ErrTerminateSupervisorTree
}

func (a *acceptorService) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *acceptorService) String() string { return "acceptor" }

// adminService keeps the admin endpoint up; suture restarts it with backoff
// if it fails, since the acceptor does not depend on it.
type adminService struct {
	server *admin.Server
}

func (a *adminService) Serve(ctx context.Context) error {
	if err := a.server.Serve(ctx); err != nil {
		return err
	}
	return suture.ErrDoNotRestart
}

func (a *adminService) String() string { return "admin" }
