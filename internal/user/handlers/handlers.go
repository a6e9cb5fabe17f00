// Package handlers exposes the HTTP endpoints for authentication and staff
// account management.
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
	"github.com/playdesk/playdesk/internal/user/dto"
	"github.com/playdesk/playdesk/internal/user/models"
	"github.com/playdesk/playdesk/internal/user/service"
)

type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "user-handlers")),
	}
}

// RegisterRoutes wires the auth and staff endpoints into the API group.
func RegisterRoutes(api *gin.RouterGroup, svc *service.Service, issuer *auth.TokenIssuer, log *logger.Logger) {
	h := NewHandlers(svc, log)

	api.POST("/auth/login", h.login)

	authed := api.Group("")
	authed.Use(httpmw.RequireAuth(issuer))
	authed.POST("/auth/logout", h.logout)
	authed.GET("/agents", h.listAgents)
	authed.POST("/users", httpmw.RequireRole(auth.RoleAdmin), h.createUser)
}

func (h *Handlers) login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("username and password are required"))
		return
	}

	user, token, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, dto.LoginResponse{AccessToken: token, User: dto.FromUser(user)})
}

func (h *Handlers) logout(c *gin.Context) {
	principal := httpmw.Principal(c)
	if err := h.service.Logout(c.Request.Context(), principal.UserID); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, gin.H{"logged_out": true})
}

func (h *Handlers) listAgents(c *gin.Context) {
	statuses, err := h.service.ListAgentStatuses(c.Request.Context())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusOK, statuses)
}

func (h *Handlers) createUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Fail(c, apperr.Validation("username, password, and role are required"))
		return
	}

	user, err := h.service.CreateAgent(c.Request.Context(), req.Username, req.Password, req.DisplayName, models.Role(req.Role))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, http.StatusCreated, dto.FromUser(user))
}
