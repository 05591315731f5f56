// Package generation talks to the hosted text-generation service.
//
// Every failure a Client returns matches exactly one of ErrQuotaExceeded or
// ErrService (via errors.Is). Timeouts and cancellations are service errors
// that additionally match ErrTimeout or context.Canceled.
package generation

import (
	"context"
	"errors"
	"fmt"
)

// Role is a message author as understood by the generation service.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one prior exchange replayed to the service.
type Message struct {
	Role Role
	Text string
}

// Request is a single generation call.
type Request struct {
	Model             string
	SystemInstruction string
	History           []Message
	NewMessage        string
}

// SingleShot reports whether the request carries no instruction and no history.
func (r Request) SingleShot() bool {
	return r.SystemInstruction == "" && len(r.History) == 0
}

// Client produces a text reply for a request.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var (
	// ErrQuotaExceeded means the service refused the call for rate or quota reasons.
	ErrQuotaExceeded = errors.New("generation quota exceeded")
	// ErrService matches every non-quota failure.
	ErrService = errors.New("generation service error")
	// ErrTimeout matches service errors caused by the call deadline.
	ErrTimeout = errors.New("generation timed out")
)

// QuotaError carries the service's explanation of a quota refusal.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	if e.Message == "" {
		return ErrQuotaExceeded.Error()
	}
	return ErrQuotaExceeded.Error() + ": " + e.Message
}

// Is lets errors.Is match ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// ServiceError is any failure other than quota exhaustion.
type ServiceError struct {
	Detail     string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation service error (http %d): %s", e.StatusCode, e.Detail)
	}
	return "generation service error: " + e.Detail
}

// Is lets errors.Is match ErrService.
func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Outcome classifies err into a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
