package flow

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// SetVersionHeader sets a weak ETag carrying the record version.
func SetVersionHeader(c echo.Context, version int) {
	c.Response().Header().Set("ETag", FormatETag(version))
}

// FormatETag creates a weak ETag from a version.
func FormatETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag extracts the version number from an ETag value like W/"3" or "3".
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return v, nil
}

// IfMatchVersion returns the version named by the If-Match header, or 0 when
// the header is absent.
func IfMatchVersion(c echo.Context) (int, error) {
	ifMatch := c.Request().Header.Get("If-Match")
	if ifMatch == "" {
		return 0, nil
	}
	v, err := ParseETag(ifMatch)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid If-Match header: "+err.Error())
	}
	return v, nil
}
