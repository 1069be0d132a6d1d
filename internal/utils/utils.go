package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetLimitParam reads a bounded "limit" query param for history endpoints.
func GetLimitParam(c *gin.Context, defaultLimit, maxLimit int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if limit < 1 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
