package rest

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"document-gateway/internal/domain"
	"document-gateway/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// filterFromQuery reads repo, branch, repeated path and from_version.
func filterFromQuery(c *gin.Context) (domain.Filter, error) {
	filter := domain.Filter{
		Repo:   c.Query("repo"),
		Branch: c.Query("branch"),
		Paths:  c.QueryArray("path"),
	}
	if raw := c.Query("from_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Filter{}, domain.InvalidRequest("subscribe", "from_version must be an integer")
		}
		filter.MinVersion = v
	}
	return filter, filter.Validate()
}

// StreamChanges delivers matching changes as server-sent events until the
// client goes away or the change feed fails.
func (h *Handler) StreamChanges(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.Error(err)
		return
	}
	sub, err := h.service.SubscribeChanges(c.Request.Context(), middleware.Claims(c), filter)
	if err != nil {
		c.Error(err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		rec, ok := <-sub.Records()
		if !ok {
			<-sub.Done()
			if err := sub.Err(); err != nil {
				c.SSEvent("error", gin.H{"code": domain.KindOf(err).String(), "error": domain.Message(err)})
			}
			return false
		}
		c.SSEvent("change", rec)
		return true
	})
}

// WatchChanges is the WebSocket variant of StreamChanges. The subscription is
// opened before the upgrade so authorization and filter errors are plain HTTP errors.
func (h *Handler) WatchChanges(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.Error(err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sub, err := h.service.SubscribeChanges(ctx, middleware.Claims(c), filter)
	if err != nil {
		c.Error(err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// the read side only exists to notice the client closing
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for rec := range sub.Records() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(rec); err != nil {
			cancel()
			break
		}
	}
	sub.Close()

	code, reason := websocket.CloseNormalClosure, ""
	if err := sub.Err(); err != nil {
		code, reason = websocket.CloseTryAgainLater, domain.Message(err)
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
