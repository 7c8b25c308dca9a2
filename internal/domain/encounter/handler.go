package encounter

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/pkg/pagination"
)

type Handler struct {
	svc   *Service
	authz auth.Authorizer
}

func NewHandler(svc *Service, authz auth.Authorizer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
	api.GET("/encounters/:id/history", h.GetHistory)

	api.POST("/encounters", h.CreateEncounter, auth.Require(h.authz, auth.ModuleEncounters, auth.ActionCreate))
	api.POST("/encounters/:id/transition", h.Transition, auth.Require(h.authz, auth.ModuleEncounters, auth.ActionEdit))
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var e Encounter
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &e); err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, e.Version)
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, e.Version)
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Pool:   c.QueryParam("pool"),
		Kind:   Kind(c.QueryParam("kind")),
		Status: c.QueryParam("status"),
	}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = pid
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}
		f.ActiveOnly = active
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return flow.HTTPError(err)
	}
	if items == nil {
		items = []*Encounter{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	if items == nil {
		items = []*StatusHistory{}
	}
	return c.JSON(http.StatusOK, items)
}

// Transition applies an event. An If-Match header stands in for
// expected_version when the body leaves it out.
func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Event == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event is required")
	}
	if req.ExpectedVersion == 0 {
		v, err := flow.IfMatchVersion(c)
		if err != nil {
			return err
		}
		req.ExpectedVersion = v
	}
	e, err := h.svc.Transition(c.Request().Context(), id, req)
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, e.Version)
	return c.JSON(http.StatusOK, e)
}
