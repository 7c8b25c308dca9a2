package admission

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
	api.GET("/admissions/:id", h.GetAdmission)
	api.GET("/wards/:id/census", h.GetCensus)

	api.POST("/admissions", h.Admit, auth.Require(h.authz, auth.ModuleAdmissions, auth.ActionCreate))
	edit := auth.Require(h.authz, auth.ModuleAdmissions, auth.ActionEdit)
	api.POST("/admissions/:id/discharge", h.Discharge, edit)
	api.POST("/admissions/:id/transfer", h.Transfer, edit)
}

type admitRequest struct {
	EncounterID uuid.UUID  `json:"encounter_id"`
	WardID      string     `json:"ward_id"`
	BedID       *uuid.UUID `json:"bed_id,omitempty"`
	Features    []string   `json:"features,omitempty"`
}

type transferRequest struct {
	WardID   string     `json:"ward_id"`
	BedID    *uuid.UUID `json:"bed_id,omitempty"`
	Features []string   `json:"features,omitempty"`
}

func (h *Handler) Admit(c echo.Context) error {
	var req admitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	a, err := h.svc.Admit(c.Request().Context(), req.EncounterID, req.WardID, AdmitOptions{BedID: req.BedID, Features: req.Features})
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, a.Encounter.Version)
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	flow.SetVersionHeader(c, a.Encounter.Version)
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Transfer with an empty ward_id transfers the patient out.
func (h *Handler) Transfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Transfer(c.Request().Context(), id, req.WardID, AdmitOptions{BedID: req.BedID, Features: req.Features})
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetCensus(c echo.Context) error {
	census, err := h.svc.Census(c.Request().Context(), c.Param("id"))
	if err != nil {
		return flow.HTTPError(err)
	}
	return c.JSON(http.StatusOK, census)
}
