package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t)
	return NewHandler(f.svc, auth.AllowAll{}), f, echo.New()
}

func TestHandler_CreateEncounter(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"patient_id":"6f1c2b9e-8d1f-4f3c-9a55-1d7f2b3c4d5e","kind":"er_case","note":"chest pain"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateEncounter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusWaiting || got.Pool != flow.ERPool {
		t.Errorf("unexpected encounter %s %s", got.Status, got.Pool)
	}
	if rec.Header().Get("ETag") != `W/"1"` {
		t.Errorf("expected ETag W/\"1\", got %q", rec.Header().Get("ETag"))
	}
}

func TestHandler_CreateEncounter_BadRequest(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kind":"appointment"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.CreateEncounter(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetEncounter_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("0b6f4b8e-3c1a-4f7e-8d2b-5a9c1e2f3d4b")

	err := h.GetEncounter(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_Transition_IfMatch(t *testing.T) {
	h, f, e := newTestHandler(t)
	enc := f.appointment(t, "dr-a", f.now.Add(time.Hour))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event":"confirm"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("If-Match", `W/"7"`)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	err := h.Transition(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale If-Match, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event":"confirm"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("If-Match", `W/"1"`)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("ETag") != `W/"2"` {
		t.Errorf("expected ETag W/\"2\", got %q", rec.Header().Get("ETag"))
	}
}

func TestHandler_Transition_Invalid(t *testing.T) {
	h, f, e := newTestHandler(t)
	enc := f.appointment(t, "dr-a", f.now)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event":"complete"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	err := h.Transition(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Transition_MissingEvent(t *testing.T) {
	h, f, e := newTestHandler(t)
	enc := f.appointment(t, "dr-a", f.now)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	err := h.Transition(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListEncounters(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.appointment(t, "dr-a", f.now)
	f.appointment(t, "dr-a", f.now)
	f.erCase(t)

	req := httptest.NewRequest(http.MethodGet, "/?pool=dr-a&active=true&limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListEncounters(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || !body.HasMore {
		t.Errorf("expected total 2 with more pages, got %+v", body)
	}
}

func TestHandler_GetHistory(t *testing.T) {
	h, f, e := newTestHandler(t)
	enc := f.appointment(t, "dr-a", f.now)
	f.apply(t, enc.ID, EventConfirm)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	if err := h.GetHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rows []StatusHistory
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[1].Event != EventConfirm {
		t.Errorf("unexpected history %+v", rows)
	}
}
