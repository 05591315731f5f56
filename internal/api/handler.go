// Package api provides the JSON and WebSocket handlers for Curriculum Designer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/curriculum-designer/internal/assistant"
	"github.com/ashureev/curriculum-designer/internal/auth"
	"github.com/ashureev/curriculum-designer/internal/curriculum"
	"github.com/ashureev/curriculum-designer/internal/generation"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeValidation         = "validation"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeServiceError       = "service_error"
	CodeMalformedOutput    = "malformed_output"
	CodeBusy               = "busy"
	CodeUnauthorized       = "unauthorized"
	CodeRateLimited        = "rate_limited"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal"
)

// ErrRateLimited is returned when a user exceeds the generation rate limit.
var ErrRateLimited = errors.New("too many requests, slow down and try again shortly")

// QuotaHint is shown next to every quota refusal.
const QuotaHint = "The Gemini quota for this API key is used up. Wait a minute and retry, " +
	"switch to a lighter model such as gemini-2.5-flash, use another API key, " +
	"or enable billing at https://aistudio.google.com/app/apikey."

// Problem is the user-facing description of a failed action.
type Problem struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Hint    string `json:"hint,omitempty"`
}

// Classify maps an action error onto a status code, error code and message.
func Classify(err error) Problem {
	var (
		validation *auth.ValidationError
		input      *assistant.InputError
		quota      *generation.QuotaError
		service    *generation.ServiceError
	)

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return Problem{Status: http.StatusUnauthorized, Code: CodeInvalidCredentials, Message: "Invalid username or password"}
	case errors.Is(err, auth.ErrRegistrationDisabled):
		return Problem{Status: http.StatusForbidden, Code: CodeValidation, Message: "Registration is disabled on this server"}
	case errors.As(err, &validation):
		return Problem{Status: http.StatusBadRequest, Code: CodeValidation, Message: validation.Error()}
	case errors.As(err, &input):
		return Problem{Status: http.StatusBadRequest, Code: CodeValidation, Message: input.Error()}
	case errors.Is(err, ErrRateLimited):
		return Problem{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "Too many requests, slow down and try again shortly"}
	case errors.Is(err, session.ErrBusy):
		return Problem{Status: http.StatusConflict, Code: CodeBusy, Message: "Still working on the previous request"}
	case errors.As(err, &quota):
		return Problem{Status: http.StatusTooManyRequests, Code: CodeQuotaExceeded, Message: quota.Error(), Hint: QuotaHint}
	case errors.Is(err, generation.ErrQuotaExceeded):
		return Problem{Status: http.StatusTooManyRequests, Code: CodeQuotaExceeded, Message: err.Error(), Hint: QuotaHint}
	case errors.Is(err, curriculum.ErrMalformedOutput):
		return Problem{Status: http.StatusBadGateway, Code: CodeMalformedOutput, Message: "The model did not return a usable curriculum: " + err.Error()}
	case errors.Is(err, generation.ErrTimeout):
		return Problem{Status: http.StatusGatewayTimeout, Code: CodeServiceError, Message: err.Error()}
	case errors.As(err, &service):
		return Problem{Status: http.StatusBadGateway, Code: CodeServiceError, Message: service.Error()}
	case errors.Is(err, context.Canceled):
		return Problem{Status: http.StatusBadGateway, Code: CodeServiceError, Message: "request cancelled"}
	case errors.Is(err, render.ErrUnknownExport):
		return Problem{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Unknown export"}
	case errors.Is(err, render.ErrNoCurriculum):
		return Problem{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Generate a curriculum first"}
	default:
		return Problem{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Something went wrong, please try again"}
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Problem{Code: code, Message: message})
}

func writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	p := Classify(err)
	if p.Status >= http.StatusInternalServerError && p.Code == CodeInternal {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	JSON(w, p.Status, p)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, CodeValidation, "invalid request body")
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !readJSON(w, r, v) {
		return false
	}
	if err := validate.Struct(v); err != nil {
		Error(w, http.StatusBadRequest, CodeValidation, describeValidation(err))
		return false
	}
	return true
}

const maxBodyBytes = 1 << 20
