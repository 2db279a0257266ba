package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/pkg/middleware"
	"github.com/chandlergims/shillster/pkg/response"
)

// outcomeResponse is returned by every graph mutation.
type outcomeResponse struct {
	Outcome domain.Outcome `json:"outcome"`
}

// resolveRequest is the body of PUT /follow-requests/:request_id.
type resolveRequest struct {
	Status domain.RequestStatus `json:"status" binding:"required"`
}

// Follow handles POST /api/v1/users/:user_id/follow.
// The authenticated user asks to follow the target user.
func (h *Handler) Follow(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	targetID := c.Param("user_id")

	outcome, err := h.follow.InitiateFollow(c.Request.Context(), actorID, targetID)
	if err != nil {
		writeError(c, err, "failed to follow user")
		return
	}

	if outcome == domain.OutcomeRequested {
		response.Created(c, outcomeResponse{Outcome: outcome})
		return
	}
	response.Success(c, outcomeResponse{Outcome: outcome})
}

// Unfollow handles DELETE /api/v1/users/:user_id/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	outcome, err := h.follow.Unfollow(c.Request.Context(), middleware.GetUserID(c), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to unfollow user")
		return
	}
	response.Success(c, outcomeResponse{Outcome: outcome})
}

// CancelFollowRequest handles DELETE /api/v1/users/:user_id/follow-request.
func (h *Handler) CancelFollowRequest(c *gin.Context) {
	outcome, err := h.follow.CancelFollowRequest(c.Request.Context(), middleware.GetUserID(c), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to cancel follow request")
		return
	}
	response.Success(c, outcomeResponse{Outcome: outcome})
}

// RelationStatus handles GET /api/v1/users/:user_id/relation.
func (h *Handler) RelationStatus(c *gin.Context) {
	status, err := h.follow.RelationStatus(c.Request.Context(), middleware.GetUserID(c), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to get relation")
		return
	}
	response.Success(c, status)
}

// ListPendingRequests handles GET /api/v1/follow-requests.
func (h *Handler) ListPendingRequests(c *gin.Context) {
	pending, err := h.follow.PendingRequests(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list follow requests")
		return
	}
	response.Success(c, gin.H{"requests": pending})
}

// ResolveFollowRequest handles PUT /api/v1/follow-requests/:request_id.
func (h *Handler) ResolveFollowRequest(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	outcome, err := h.follow.ResolveFollowRequest(c.Request.Context(), c.Param("request_id"), middleware.GetUserID(c), req.Status)
	if err != nil {
		writeError(c, err, "failed to resolve follow request")
		return
	}
	response.Success(c, outcomeResponse{Outcome: outcome})
}

// ListFollowers handles GET /api/v1/users/:user_id/followers.
func (h *Handler) ListFollowers(c *gin.Context) {
	limit, ok := queryLimit(c, "limit")
	if !ok {
		return
	}
	users, err := h.follow.Followers(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		writeError(c, err, "failed to list followers")
		return
	}
	response.Success(c, gin.H{"users": users})
}

// ListFollowing handles GET /api/v1/users/:user_id/following.
func (h *Handler) ListFollowing(c *gin.Context) {
	limit, ok := queryLimit(c, "limit")
	if !ok {
		return
	}
	users, err := h.follow.Following(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		writeError(c, err, "failed to list following")
		return
	}
	response.Success(c, gin.H{"users": users})
}
