package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/core"
	"youth-mis/internal/identity"
	"youth-mis/internal/logger"
	"youth-mis/internal/middleware"
	"youth-mis/internal/wire"
)

type AuthHandler struct {
	Core   *core.Core
	Logger *logger.Logger
}

func authResponse(g identity.Grant) wire.AuthResponse {
	return wire.AuthResponse{
		User:        g.Identity,
		AccessToken: g.AccessToken,
		IssuedAt:    g.IssuedAt.UnixMilli(),
		ExpiresAt:   g.ExpiresAt.UnixMilli(),
	}
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var body wire.SignUpRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "signup", "Invalid request")
		return
	}
	grant, err := h.Core.SignUp(c.Request.Context(), body.Email, body.Password, body.Data)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(grant))
}

func (h *AuthHandler) Token(c *gin.Context) {
	var body wire.TokenRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "signin", "Invalid request")
		return
	}
	grant, err := h.Core.Identity.SignIn(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(grant))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Core.Identity.SignOut(c.Request.Context(), middleware.TokenFromContext(c)); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) User(c *gin.Context) {
	caller, _ := middleware.CallerFromContext(c)
	id, err := h.Core.Identity.User(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, id)
}
