// Package webchan is the HTTP/WebSocket front-end adapter: REST submission
// of commands, a result poll endpoint, service analytics, and a WebSocket
// push channel for asynchronous results.
package webchan

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"servis/internal/config"
	"servis/internal/dispatch"
	"servis/internal/domain"
	"servis/internal/logging"
	"servis/internal/registry"
)

const resultCacheSize = 1024

// Adapter serves the web interface. Results are pushed over connected
// WebSockets and kept in a bounded cache for HTTP polling.
type Adapter struct {
	bridge   *dispatch.Bridge
	registry *registry.Registry
	logger   *logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	results *lru.Cache[string, *domain.CommandResult]

	connMu sync.RWMutex
	conns  map[*wsConn]struct{}
}

type wsConn struct {
	mu        sync.Mutex
	socket    *websocket.Conn
	sessionID string // empty means all results
}

// New builds the adapter and its routes. The server starts listening in
// Start.
func New(cfg config.WebConfig, bridge *dispatch.Bridge, reg *registry.Registry, logger *logging.Logger) (*Adapter, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	results, err := lru.New[string, *domain.CommandResult](resultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}

	a := &Adapter{
		bridge:   bridge,
		registry: reg,
		logger:   logging.OrNop(logger),
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		results: results,
		conns:   make(map[*wsConn]struct{}),
	}
	a.setupRoutes()

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a, nil
}

func (a *Adapter) setupRoutes() {
	a.engine.GET("/healthz", a.handleHealthz)

	api := a.engine.Group("/api")
	{
		api.POST("/commands", a.handleSubmit)
		api.GET("/commands/:id", a.handleResult)
		api.GET("/services", a.handleServices)
		api.GET("/ws", a.handleWebSocket)
	}
}

func (a *Adapter) Tag() domain.InterfaceTag { return domain.InterfaceWeb }

// Start begins serving. Listen errors after startup are logged, not fatal;
// a port conflict surfaces within the startup grace.
func (a *Adapter) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("web adapter listen: %w", err)
	case <-time.After(100 * time.Millisecond):
	}
	a.logger.Info("web adapter listening", "addr", a.httpServer.Addr)
	return nil
}

// Stop closes WebSocket connections and shuts the HTTP server down.
func (a *Adapter) Stop(ctx context.Context) error {
	a.connMu.Lock()
	for conn := range a.conns {
		conn.socket.Close()
	}
	a.conns = make(map[*wsConn]struct{})
	a.connMu.Unlock()

	return a.httpServer.Shutdown(ctx)
}

// Deliver caches the result for polling and pushes it to matching
// WebSocket subscribers.
func (a *Adapter) Deliver(_ context.Context, result *domain.CommandResult) error {
	a.results.Add(result.RequestID, result)

	a.connMu.RLock()
	defer a.connMu.RUnlock()
	for conn := range a.conns {
		if conn.sessionID != "" && conn.sessionID != result.SessionID {
			continue
		}
		conn.mu.Lock()
		err := conn.socket.WriteJSON(result)
		conn.mu.Unlock()
		if err != nil {
			a.logger.Debug("websocket push failed", "request_id", result.RequestID, "error", err)
		}
	}
	return nil
}
