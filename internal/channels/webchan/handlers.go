package webchan

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"servis/internal/dispatch"
	"servis/internal/domain"
	"servis/internal/errors"
)

type submitRequest struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	Text       string `json:"text" binding:"required"`
	Priority   string `json:"priority"`
	Interface  string `json:"interface"`
	DeadlineMs int64  `json:"deadline_ms"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (a *Adapter) handleSubmit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	iface := domain.InterfaceWeb
	if body.Interface != "" {
		iface = domain.InterfaceTag(body.Interface)
		if !iface.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown interface tag: " + body.Interface})
			return
		}
	}

	sub := dispatch.Submission{
		UserID:    body.UserID,
		SessionID: body.SessionID,
		Interface: iface,
		Text:      body.Text,
		Priority:  domain.Priority(body.Priority),
	}
	if body.DeadlineMs > 0 {
		sub.Deadline = time.Now().Add(time.Duration(body.DeadlineMs) * time.Millisecond)
	}

	requestID, err := a.bridge.Submit(c.Request.Context(), sub)
	if err != nil {
		c.JSON(statusForKind(errors.KindOf(err)), gin.H{
			"error":   string(errors.KindOf(err)),
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{RequestID: requestID, Status: "accepted"})
}

func (a *Adapter) handleResult(c *gin.Context) {
	id := c.Param("id")
	if result, ok := a.results.Get(id); ok {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": id, "status": "pending"})
}

func (a *Adapter) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": a.registry.Stats()})
}

func (a *Adapter) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (a *Adapter) handleWebSocket(c *gin.Context) {
	socket, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{socket: socket, sessionID: c.Query("session_id")}

	a.connMu.Lock()
	a.conns[conn] = struct{}{}
	a.connMu.Unlock()

	go a.readUntilClose(conn)
}

// readUntilClose drains control frames until the peer goes away, then
// removes the connection.
func (a *Adapter) readUntilClose(conn *wsConn) {
	defer func() {
		a.connMu.Lock()
		delete(a.conns, conn)
		a.connMu.Unlock()
		conn.socket.Close()
	}()
	for {
		if _, _, err := conn.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindRejectedOverload:
		return http.StatusTooManyRequests
	case errors.KindAdapterUnknown:
		return http.StatusNotFound
	case errors.KindTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
