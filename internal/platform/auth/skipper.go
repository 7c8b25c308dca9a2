package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: probes and the read-only queue board
// shown on waiting-room screens.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/ws/queues": true,
}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
