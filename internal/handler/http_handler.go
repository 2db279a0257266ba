package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chandlergims/shillster/internal/service"
	pkglog "github.com/chandlergims/shillster/pkg/log"
	"github.com/chandlergims/shillster/pkg/middleware"
	"github.com/chandlergims/shillster/pkg/response"
)

// Error codes more specific than the generic response codes.
const (
	CodeSelfFollow   = "SELF_FOLLOW"
	CodeInvalidState = "INVALID_STATE"
	CodeHandleTaken  = "HANDLE_TAKEN"
	CodeInvalidRole  = "INVALID_ROLE"
)

// Handler handles HTTP requests for the social graph service.
type Handler struct {
	follow         service.FollowService
	discovery      service.DiscoveryService
	users          service.UserService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(follow service.FollowService, discovery service.DiscoveryService, users service.UserService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		follow:         follow,
		discovery:      discovery,
		users:          users,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := h.authMiddleware.RequireAuth()

	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		{
			users.POST("", auth, h.Register)
			users.GET("/new", h.ListNewUsers)
			users.PATCH("/me", auth, h.UpdateProfile)
			users.POST("/me/shills", auth, h.RecordShill)
			users.GET("/:user_id", h.GetUser)

			users.POST("/:user_id/follow", auth, h.Follow)
			users.DELETE("/:user_id/follow", auth, h.Unfollow)
			users.DELETE("/:user_id/follow-request", auth, h.CancelFollowRequest)
			users.GET("/:user_id/relation", auth, h.RelationStatus)
			users.GET("/:user_id/followers", h.ListFollowers)
			users.GET("/:user_id/following", h.ListFollowing)
			users.GET("/:user_id/followers/count", h.GetCounts)
		}

		requests := api.Group("/follow-requests", auth)
		{
			requests.GET("", h.ListPendingRequests)
			requests.PUT("/:request_id", h.ResolveFollowRequest)
		}

		api.GET("/shillers/top", h.ListTopShillers)
		api.GET("/discover", h.Discover)
	}
}

// writeError maps service errors onto HTTP responses. Unexpected errors are
// logged and reported as 500 with msg.
func writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		if middleware.GetUserID(c) == "" {
			response.Unauthorized(c, "unauthorized")
			return
		}
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrSelfFollow):
		response.Error(c, http.StatusBadRequest, CodeSelfFollow, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		response.ConflictWithCode(c, CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrHandleTaken):
		response.ConflictWithCode(c, CodeHandleTaken, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidDecision):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		response.Error(c, http.StatusBadRequest, CodeInvalidRole, err.Error())
	default:
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(msg)
		_ = c.Error(err)
		response.InternalError(c, msg)
	}
}

// queryLimit parses an optional positive integer query parameter. Zero
// means "use the default".
func queryLimit(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.BadRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
