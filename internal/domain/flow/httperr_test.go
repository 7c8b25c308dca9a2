package flow

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("encounter x: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("v2: %w", ErrStaleState), http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrResourceUnavailable, http.StatusConflict},
		{ErrAlreadyTerminal, http.StatusConflict},
		{ErrIntegrityViolation, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusForbidden, "no"), http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := HTTPError(tt.err).Code; got != tt.want {
			t.Errorf("HTTPError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
