// Package handlers exposes the quick-reply endpoints for the agent workbench.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpapi"
	"github.com/playdesk/playdesk/internal/common/httpmw"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/quickreply/models"
	"github.com/playdesk/playdesk/internal/quickreply/service"
	"github.com/playdesk/playdesk/internal/quickreply/store"
)

type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "quickreply-handlers")),
	}
}

// RegisterRoutes wires quick-reply endpoints. All of them require staff auth.
func RegisterRoutes(api *gin.RouterGroup, svc *service.Service, issuer *auth.TokenIssuer, log *logger.Logger) {
	h := NewHandlers(svc, log)

	staff := api.Group("")
	staff.Use(httpmw.RequireAuth(issuer))
	staff.GET("/quick-replies", h.list)
	staff.GET("/quick-replies/categories", h.categories)
	staff.POST("/quick-replies", h.create)
	staff.PUT("/quick-replies/:id", h.update)
	staff.POST("/quick-replies/:id/favorite", h.favorite)
	staff.POST("/quick-replies/:id/usage", h.recordUsage)
	staff.DELETE("/quick-replies/:id", h.remove)
}

type upsertRequest struct {
	Category string `json:"category"`
	Title    string `json:"title" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Shared   bool   `json:"shared"`
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

func (h *Handlers) create(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("title and content are required"))
		return
	}
	qr, err := h.service.Create(c.Request.Context(), httpmw.Principal(c).UserID, &models.QuickReply{
		Category: req.Category,
		Title:    req.Title,
		Content:  req.Content,
	}, req.Shared)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, qr)
}

func (h *Handlers) list(c *gin.Context) {
	replies, err := h.service.List(c.Request.Context(), httpmw.Principal(c).UserID, store.ListFilters{
		Category:     c.Query("category"),
		Keyword:      c.Query("keyword"),
		FavoriteOnly: c.Query("favorite") == "true",
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, replies)
}

func (h *Handlers) categories(c *gin.Context) {
	categories, err := h.service.Categories(c.Request.Context(), httpmw.Principal(c).UserID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, categories)
}

func (h *Handlers) update(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("title and content are required"))
		return
	}
	qr, err := h.service.Update(c.Request.Context(), httpmw.Principal(c).UserID,
		c.Param("id"), req.Category, req.Title, req.Content)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, qr)
}

func (h *Handlers) favorite(c *gin.Context) {
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("favorite is required"))
		return
	}
	if err := h.service.SetFavorite(c.Request.Context(), httpmw.Principal(c).UserID,
		c.Param("id"), req.Favorite); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, gin.H{"favorite": req.Favorite})
}

func (h *Handlers) recordUsage(c *gin.Context) {
	if err := h.service.RecordUsage(c.Request.Context(), c.Param("id")); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, gin.H{"recorded": true})
}

func (h *Handlers) remove(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), httpmw.Principal(c).UserID, c.Param("id")); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, gin.H{"deleted": true})
}
