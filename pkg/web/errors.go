package web

import (
	"errors"
	"net/http"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/remote"
	"github.com/dukex/tryon/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// Problem types returned in the "type" member of error bodies.
const (
	TypeInvalidRequest      = "invalid_request"
	TypeUnauthorized        = "unauthorized"
	TypeNotFound            = "not_found"
	TypeRemoteProtocolError = "remote_protocol_error"
	TypeRemoteTimeout       = "remote_timeout"
	TypeInternalError       = "internal_error"
)

// ErrorResponse is an RFC 7807 problem with the error message repeated under "error".
type ErrorResponse struct {
	*problems.Problem

	Error string `json:"error"`
}

func writeProblem(c fiber.Ctx, status int, problemType string, err error) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithError(err)

	return c.Status(status).JSON(ErrorResponse{Problem: problem, Error: err.Error()})
}

func badRequest(c fiber.Ctx, err error) error {
	return writeProblem(c, fiber.StatusBadRequest, TypeInvalidRequest, err)
}

// Classify maps an error onto its HTTP status and problem type.
func Classify(err error) (int, string) {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest, TypeInvalidRequest
	case services.IsUnauthorized(err):
		return http.StatusUnauthorized, TypeUnauthorized
	case archive.IsNotFound(err):
		return http.StatusNotFound, TypeNotFound
	case remote.IsTimeout(err):
		return http.StatusGatewayTimeout, TypeRemoteTimeout
	case remote.IsProtocolError(err):
		return http.StatusBadGateway, TypeRemoteProtocolError
	default:
		return http.StatusInternalServerError, TypeInternalError
	}
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	status, problemType := Classify(err)

	if status == http.StatusInternalServerError {
		// Internal details stay in the log.
		return writeProblem(c, status, problemType, errors.New(http.StatusText(status)))
	}

	return writeProblem(c, status, problemType, err)
}

// ErrorHandler renders errors escaping handlers, such as unknown routes, as problems.
func ErrorHandler(c fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		problemType := TypeInternalError
		if fiberErr.Code < http.StatusInternalServerError {
			problemType = TypeInvalidRequest
		}

		if fiberErr.Code == http.StatusNotFound {
			problemType = TypeNotFound
		}

		return writeProblem(c, fiberErr.Code, problemType, errors.New(fiberErr.Message))
	}

	return handleServiceError(c, err)
}
