package flow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPError maps a domain error onto an echo HTTP error.
func HTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStaleState),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrResourceUnavailable),
		errors.Is(err, ErrAlreadyTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrIntegrityViolation):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
