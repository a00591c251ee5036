package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/xraph/docket"
)

// statusFor maps docket sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docket.ErrInvalidConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docket.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, docket.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the status mapped from err. Server faults are
// logged and their detail is withheld from the client.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = http.StatusText(code)
	}
	writeMessage(w, r, code, msg)
}

func writeMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
