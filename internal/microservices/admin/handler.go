package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"turbine/internal/microservices/tcp"
)

// Acceptor is the part of the TCP server the readiness probe looks at.
type Acceptor interface {
	Serving() bool
}

// Connections lists the connections currently held open by the acceptor.
type Connections interface {
	Count() int
	Snapshot() []tcp.ConnectionInfo
}

type StatsResponse struct {
	Serving     bool                 `json:"serving"`
	Open        int                  `json:"open_connections"`
	Connections []tcp.ConnectionInfo `json:"connections"`
}

type Handler struct {
	acceptor    Acceptor
	connections Connections
	metrics     http.Handler
}

func NewHandler(acceptor Acceptor, connections Connections, metrics http.Handler) *Handler {
	return &Handler{acceptor: acceptor, connections: connections, metrics: metrics}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Healthz)
	rg.GET("/readyz", h.Readyz)
	rg.GET("/stats", h.Stats)
	if h.metrics != nil {
		rg.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// Healthz answers as long as the process is up.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports 503 until the accept loop runs and again once shutdown starts.
func (h *Handler) Readyz(c *gin.Context) {
	if h.acceptor == nil || !h.acceptor.Serving() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_serving"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "serving"})
}

func (h *Handler) Stats(c *gin.Context) {
	resp := StatsResponse{Connections: []tcp.ConnectionInfo{}}
	if h.acceptor != nil {
		resp.Serving = h.acceptor.Serving()
	}
	if h.connections != nil {
		resp.Connections = h.connections.Snapshot()
		resp.Open = len(resp.Connections)
	}
	c.JSON(http.StatusOK, resp)
}
