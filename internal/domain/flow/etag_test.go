package flow

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseETag(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{`W/"3"`, 3, false},
		{`"12"`, 12, false},
		{`7`, 7, false},
		{` W/"1" `, 1, false},
		{`W/"abc"`, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseETag(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseETag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseETag(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIfMatchVersion(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if v, err := IfMatchVersion(c); err != nil || v != 0 {
		t.Errorf("no header: got %d, %v", v, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("If-Match", FormatETag(4))
	c = e.NewContext(req, httptest.NewRecorder())
	if v, err := IfMatchVersion(c); err != nil || v != 4 {
		t.Errorf("expected 4, got %d, %v", v, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("If-Match", "nope")
	c = e.NewContext(req, httptest.NewRecorder())
	_, err := IfMatchVersion(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
