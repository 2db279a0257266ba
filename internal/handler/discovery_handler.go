package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/chandlergims/shillster/pkg/response"
)

// GetCounts handles GET /api/v1/users/:user_id/followers/count.
func (h *Handler) GetCounts(c *gin.Context) {
	counts, err := h.discovery.Counts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "failed to get followers count")
		return
	}
	response.Success(c, gin.H{
		"count":     counts.Followers,
		"followers": counts.Followers,
		"following": counts.Following,
	})
}

// ListTopShillers handles GET /api/v1/shillers/top.
func (h *Handler) ListTopShillers(c *gin.Context) {
	limit, ok := queryLimit(c, "limit")
	if !ok {
		return
	}
	users, err := h.discovery.ListTopShillers(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list top shillers")
		return
	}
	response.Success(c, gin.H{"users": users})
}

// ListNewUsers handles GET /api/v1/users/new.
func (h *Handler) ListNewUsers(c *gin.Context) {
	limit, ok := queryLimit(c, "limit")
	if !ok {
		return
	}
	users, err := h.discovery.ListNewUsers(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list new users")
		return
	}
	response.Success(c, gin.H{"users": users})
}

// Discover handles GET /api/v1/discover.
func (h *Handler) Discover(c *gin.Context) {
	limitTop, ok := queryLimit(c, "top_limit")
	if !ok {
		return
	}
	limitNew, ok := queryLimit(c, "new_limit")
	if !ok {
		return
	}
	d, err := h.discovery.Discover(c.Request.Context(), limitTop, limitNew)
	if err != nil {
		writeError(c, err, "failed to load discover page")
		return
	}
	response.Success(c, d)
}
