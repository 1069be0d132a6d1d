package permission

import (
	"net/http"
	"widget-sync-engine/auth"
	"widget-sync-engine/internal/errors"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreatePermissions(c *gin.Context) {
	widgetID := c.Param("id")
	userID, ok := auth.UserID(c)
	if !ok {
		c.Error(errors.Unauthenticated("No authenticated user", nil))
		return
	}

	record, err := h.service.CreatePermissions(c.Request.Context(), widgetID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

type GrantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Level  string `json:"level" binding:"required"`
}

func (h *Handler) Grant(c *gin.Context) {
	widgetID := c.Param("id")
	callerID, _ := auth.UserID(c)

	var form GrantRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	if err := h.service.Grant(c.Request.Context(), widgetID, callerID, form.UserID, form.Level); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Revoke(c *gin.Context) {
	widgetID := c.Param("id")
	targetUserID := c.Param("userId")
	callerID, _ := auth.UserID(c)

	if err := h.service.Revoke(c.Request.Context(), widgetID, callerID, targetUserID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type UpdateLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func (h *Handler) UpdateLevel(c *gin.Context) {
	widgetID := c.Param("id")
	targetUserID := c.Param("userId")
	callerID, _ := auth.UserID(c)

	var form UpdateLevelRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	if err := h.service.UpdateLevel(c.Request.Context(), widgetID, callerID, targetUserID, form.Level); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

type TransferOwnershipRequest struct {
	NewOwnerID string `json:"new_owner_id" binding:"required"`
}

func (h *Handler) TransferOwnership(c *gin.Context) {
	widgetID := c.Param("id")
	callerID, _ := auth.UserID(c)

	var form TransferOwnershipRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	if err := h.service.TransferOwnership(c.Request.Context(), widgetID, callerID, form.NewOwnerID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListCollaborators(c *gin.Context) {
	widgetID := c.Param("id")

	collaborators, err := h.service.ListCollaborators(c.Request.Context(), widgetID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": collaborators})
}

func (h *Handler) CheckPermission(c *gin.Context) {
	widgetID := c.Param("id")
	userID, _ := auth.UserID(c)

	perm := Permission(c.Query("permission"))
	switch perm {
	case PermRead, PermEdit, PermShare, PermAdmin, PermDelete:
	default:
		c.Error(errors.InvalidArgument("Unknown permission: "+string(perm), nil))
		return
	}

	allowed, err := h.service.HasPermission(c.Request.Context(), widgetID, userID, perm)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

func (h *Handler) DeletePermissions(c *gin.Context) {
	widgetID := c.Param("id")
	callerID, _ := auth.UserID(c)

	if err := h.service.DeletePermissions(c.Request.Context(), widgetID, callerID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
