package utils

import (
	"strconv"

	"document-gateway/internal/domain"

	"github.com/gin-gonic/gin"
)

// GetHistoryParams reads limit and before_version. A missing or invalid limit
// falls back to the store default, an invalid before_version is rejected.
func GetHistoryParams(c *gin.Context) (limit int, beforeVersion int64, err error) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))

	if raw := c.Query("before_version"); raw != "" {
		beforeVersion, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || beforeVersion < 0 {
			return 0, 0, domain.InvalidRequest("history", "before_version must be a non-negative integer")
		}
	}
	return limit, beforeVersion, nil
}

// GetVersionParam reads an optional non-negative integer query parameter.
func GetVersionParam(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.InvalidRequest("parse query", name+" must be a non-negative integer")
	}
	return v, nil
}
