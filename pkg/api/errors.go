package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/webpilot-ai/webpilot/pkg/services"
	"github.com/webpilot-ai/webpilot/pkg/vision"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrNotRunning) {
		return echo.NewHTTPError(http.StatusConflict, "session is not running")
	}
	if errors.Is(err, services.ErrAlreadyRunning) {
		return echo.NewHTTPError(http.StatusConflict, "session is already running")
	}
	if errors.Is(err, services.ErrNotCancellable) {
		return echo.NewHTTPError(http.StatusConflict, "session is not in a cancellable state")
	}
	if errors.Is(err, services.ErrAlreadyDone) {
		return echo.NewHTTPError(http.StatusConflict, "session is already finished")
	}
	if errors.Is(err, vision.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusConflict, "vision analysis is not available for this session")
	}
	if errors.Is(err, vision.ErrMarkNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "mark not found in latest analysis")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
