package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/chandlergims/shillster/internal/domain"
	pkglog "github.com/chandlergims/shillster/pkg/log"
	"github.com/chandlergims/shillster/pkg/middleware"
	"github.com/chandlergims/shillster/pkg/response"
)

// Register handles POST /api/v1/users.
// Creates the profile of the authenticated identity.
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("invalid register request")
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.Register(ctx, middleware.GetUserID(c), &req)
	if err != nil {
		writeError(c, err, "failed to register user")
		return
	}
	response.Created(c, user)
}

// GetUser handles GET /api/v1/users/:user_id.
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to get user")
		return
	}
	response.Success(c, user)
}

// UpdateProfile handles PATCH /api/v1/users/me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req domain.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		writeError(c, err, "failed to update profile")
		return
	}
	response.Success(c, user)
}

// RecordShill handles POST /api/v1/users/me/shills.
func (h *Handler) RecordShill(c *gin.Context) {
	user, err := h.users.RecordShill(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to record shill")
		return
	}
	response.Success(c, user)
}
