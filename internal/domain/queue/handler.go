package queue

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/domain/flow"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/queues/:pool", h.GetQueue)
	api.GET("/queues/:pool/next", h.GetNext)
}

func (h *Handler) GetQueue(c echo.Context) error {
	pool := c.Param("pool")
	entries, err := h.svc.OrderedQueue(c.Request().Context(), pool)
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Snapshot{Pool: pool, Entries: entries})
}

// GetNext answers 204 when nobody is waiting.
func (h *Handler) GetNext(c echo.Context) error {
	next, err := h.svc.NextFor(c.Request().Context(), c.Param("pool"))
	if err != nil {
		return flow.HTTPError(err)
	}
	if next == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, next)
}
