package resource

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	authz auth.Authorizer
}

func NewHandler(svc *Service, authz auth.Authorizer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/resources", h.ListResources)
	api.GET("/resources/:id", h.GetResource)
	api.GET("/wards/:id/occupancy", h.GetWardOccupancy)

	api.POST("/resources", h.RegisterResource, auth.Require(h.authz, auth.ModuleResources, auth.ActionCreate))

	edit := auth.Require(h.authz, auth.ModuleResources, auth.ActionEdit)
	api.POST("/resources/:id/reserve", h.Reserve, edit)
	api.POST("/resources/:id/release", h.Release, edit)
	api.POST("/resources/:id/clean", h.MarkClean, edit)
	api.POST("/resources/:id/maintenance", h.SetMaintenance, edit)
}

// reserveRequest and releaseRequest take the version the caller last saw;
// If-Match is used when the body leaves it out.
type reserveRequest struct {
	EncounterID     uuid.UUID `json:"encounter_id"`
	ExpectedVersion int       `json:"expected_version"`
}

type releaseRequest struct {
	ExpectedVersion int `json:"expected_version"`
}

type maintenanceRequest struct {
	On bool `json:"on"`
}

func (h *Handler) RegisterResource(c echo.Context) error {
	var r Resource
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Register(c.Request().Context(), &r); err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetResource(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListResources(c echo.Context) error {
	pool := c.QueryParam("pool")
	if pool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pool is required")
	}
	ctx := c.Request().Context()
	var (
		items []*Resource
		err   error
	)
	if c.QueryParam("status") == string(StatusAvailable) {
		items, err = h.svc.ListAvailable(ctx, pool)
	} else {
		items, err = h.svc.List(ctx, pool)
	}
	if err != nil {
		return flow.HTTPError(err)
	}
	if items == nil {
		items = []*Resource{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Reserve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	expected, err := expectedVersion(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	r, err := h.svc.Reserve(c.Request().Context(), id, req.EncounterID, expected)
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, r.Version)
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Release(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req releaseRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	expected, err := expectedVersion(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	r, err := h.svc.Release(c.Request().Context(), id, expected)
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, r.Version)
	return c.JSON(http.StatusOK, r)
}

func expectedVersion(c echo.Context, fromBody int) (int, error) {
	if fromBody != 0 {
		return fromBody, nil
	}
	return flow.IfMatchVersion(c)
}

func (h *Handler) MarkClean(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.MarkClean(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) SetMaintenance(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req maintenanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.SetMaintenance(c.Request().Context(), id, req.On)
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetWardOccupancy(c echo.Context) error {
	occ, err := h.svc.WardOccupancy(c.Request().Context(), c.Param("id"))
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, occ)
}
