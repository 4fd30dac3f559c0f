package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest, meta service.RequestMeta) (*models.Session, error)
	Login(ctx context.Context, req models.LoginRequest, meta service.RequestMeta) (*models.Session, error)
	Refresh(ctx context.Context, req models.RefreshRequest, meta service.RequestMeta) (*models.Session, error)
	Logout(ctx context.Context, actor models.Actor, req models.RefreshRequest, meta service.RequestMeta) error
	Me(ctx context.Context, actor models.Actor) (*models.UserInfo, error)
}

// AuthHandler exposes account and session endpoints.
type AuthHandler struct {
	auth authService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth authService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register godoc
// @Summary Register account
// @Description Create an account and start a session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid registration payload"))
		return
	}
	session, err := h.auth.Register(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Login godoc
// @Summary Authenticate user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid login payload"))
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Description Exchanges a refresh token for a new pair. Replaying a used token ends the session family.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid refresh payload"))
		return
	}
	session, err := h.auth.Refresh(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Logout godoc
// @Summary End the current session family
// @Tags Authentication
// @Accept json
// @Param payload body models.RefreshRequest true "Refresh token"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "refresh token required"))
		return
	}
	if err := h.auth.Logout(c.Request.Context(), actorFromContext(c), req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Me godoc
// @Summary Get current user
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	info, err := h.auth.Me(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}
