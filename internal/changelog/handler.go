package changelog

import (
	"net/http"
	"time"
	"widget-sync-engine/auth"
	"widget-sync-engine/internal/errors"
	"widget-sync-engine/internal/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type RecordChangeRequest struct {
	SessionID    *string        `json:"session_id"`
	ChangeType   string         `json:"change_type" binding:"required"`
	ChangeData   map[string]any `json:"change_data" binding:"required"`
	PreviousData map[string]any `json:"previous_data"`
}

func (h *Handler) RecordChange(c *gin.Context) {
	widgetID := c.Param("id")
	userID, ok := auth.UserID(c)
	if !ok {
		c.Error(errors.Unauthenticated("No authenticated user", nil))
		return
	}

	var form RecordChangeRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	record, err := h.service.RecordChange(
		c.Request.Context(),
		form.SessionID,
		widgetID,
		userID,
		ChangeType(form.ChangeType),
		Payload(form.ChangeData),
		Payload(form.PreviousData),
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *Handler) ShowChange(c *gin.Context) {
	changeID := c.Param("changeId")

	record, err := h.service.GetChange(c.Request.Context(), changeID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) ShowHistory(c *gin.Context) {
	widgetID := c.Param("id")
	limit := utils.GetLimitParam(c, 50, 500)

	records, err := h.service.GetHistory(c.Request.Context(), widgetID, limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

type SynchronizeRequest struct {
	LastSyncTimestamp time.Time      `json:"last_sync_timestamp"`
	State             map[string]any `json:"state"`
}

func (h *Handler) Synchronize(c *gin.Context) {
	widgetID := c.Param("id")
	userID, _ := auth.UserID(c)

	var form SynchronizeRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.SynchronizeState(c.Request.Context(), widgetID, userID, LocalState{
		LastSyncTimestamp: form.LastSyncTimestamp,
		State:             Payload(form.State),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ShowStats(c *gin.Context) {
	widgetID := c.Param("id")

	stats, err := h.service.GetCollaborationStats(c.Request.Context(), widgetID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
