package session

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

func (h *Handler) Start(c *gin.Context) {
	widgetID := c.Param("id")
	userID, ok := auth.UserID(c)
	if !ok {
		c.Error(errors.Unauthenticated("No authenticated user", nil))
		return
	}

	session, err := h.service.Start(c.Request.Context(), widgetID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *Handler) Join(c *gin.Context) {
	sessionID := c.Param("sessionId")
	userID, _ := auth.UserID(c)

	session, err := h.service.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) Leave(c *gin.Context) {
	sessionID := c.Param("sessionId")
	userID, _ := auth.UserID(c)

	if err := h.service.Leave(c.Request.Context(), sessionID, userID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) End(c *gin.Context) {
	sessionID := c.Param("sessionId")
	callerID, _ := auth.UserID(c)

	if err := h.service.End(c.Request.Context(), sessionID, callerID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Show(c *gin.Context) {
	sessionID := c.Param("sessionId")

	session, err := h.service.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) ListActiveForWidget(c *gin.Context) {
	widgetID := c.Param("id")

	sessions, err := h.service.GetActiveSessionsForWidget(c.Request.Context(), widgetID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sessions})
}
