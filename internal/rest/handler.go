package rest

import (
	"maps"
	"net/http"
	"time"

	"document-gateway/internal/domain"
	"document-gateway/internal/errors"
	"document-gateway/internal/gateway"
	"document-gateway/internal/middleware"
	"document-gateway/internal/store"
	"document-gateway/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Handler struct {
	service  gateway.Service
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(service gateway.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origins are enforced by the CORS middleware and the bearer token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type WriteDiffRequest struct {
	Repo          string            `json:"repo" binding:"required"`
	Branch        string            `json:"branch" binding:"required"`
	Path          string            `json:"path" binding:"required"`
	Diff          []byte            `json:"diff"`
	Message       string            `json:"message"`
	ParentVersion int64             `json:"parent_version" binding:"min=0"`
	Metadata      map[string]string `json:"metadata"`
}

// WriteDiff answers 200 with the new version, or 409 with the current state on a version conflict.
func (h *Handler) WriteDiff(c *gin.Context) {
	var req WriteDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]string)
	}
	if req.Message != "" {
		metadata["message"] = req.Message
	}

	res, err := h.service.WriteDiff(c.Request.Context(), middleware.Claims(c), gateway.WriteDiffRequest{
		Key:           domain.IdentityKey{Repo: req.Repo, Branch: req.Branch, Path: req.Path},
		Blob:          req.Diff,
		Metadata:      metadata,
		ParentVersion: req.ParentVersion,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if res.Conflict != nil {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type keyQuery struct {
	Repo   string `form:"repo" binding:"required"`
	Branch string `form:"branch" binding:"required"`
	Path   string `form:"path" binding:"required"`
}

func (q keyQuery) key() domain.IdentityKey {
	return domain.IdentityKey{Repo: q.Repo, Branch: q.Branch, Path: q.Path}
}

type SnapshotResponse struct {
	ID        string            `json:"id"`
	Content   []byte            `json:"content"`
	Version   int64             `json:"version"`
	Author    string            `json:"author"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *Handler) ReadSnapshot(c *gin.Context) {
	var q keyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}
	version, err := utils.GetVersionParam(c, "version")
	if err != nil {
		c.Error(err)
		return
	}

	doc, err := h.service.ReadSnapshot(c.Request.Context(), middleware.Claims(c), q.key(), version)
	if err != nil {
		c.Error(err)
		return
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	c.JSON(http.StatusOK, SnapshotResponse{
		ID:        doc.ID,
		Content:   doc.Blob,
		Version:   doc.Version,
		Author:    doc.Author,
		Timestamp: doc.Timestamp,
		Type:      doc.Type,
		Metadata:  metadata,
	})
}

func (h *Handler) GetHistory(c *gin.Context) {
	var q keyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}
	limit, before, err := utils.GetHistoryParams(c)
	if err != nil {
		c.Error(err)
		return
	}

	page, err := h.service.GetHistory(c.Request.Context(), middleware.Claims(c), q.key(), store.HistoryQuery{
		Limit:         limit,
		BeforeVersion: before,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type ResolveRequest struct {
	Repo     string `json:"repo"`
	Branch   string `json:"branch"`
	Path     string `json:"path"`
	Strategy string `json:"strategy" binding:"required"`
	Local    []byte `json:"local"`
	Remote   []byte `json:"remote"`
}

func (h *Handler) ResolveConflict(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	res, err := h.service.ResolveConflict(c.Request.Context(), middleware.Claims(c), gateway.ResolveRequest{
		Key:      domain.IdentityKey{Repo: req.Repo, Branch: req.Branch, Path: req.Path},
		Strategy: req.Strategy,
		Local:    req.Local,
		Remote:   req.Remote,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "document-gateway",
		"version": gateway.Version,
	})
}
