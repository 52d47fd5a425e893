package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParseHistoryLimit reads the optional limit query parameter. Missing,
// malformed or out of range values fall back to max.
func ParseHistoryLimit(c *gin.Context, max int) int {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return max
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil || l <= 0 || l > max {
		return max
	}
	return l
}

// ParseID reads a positive integer path parameter.
func ParseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
