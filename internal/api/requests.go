package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// Credential fields are only length-checked here. Empty and mismatched
// values are reported by the authenticator.
type loginRequest struct {
	Username string `json:"username" validate:"max=128"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username" validate:"max=128"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=20000"`
}

type modelRequest struct {
	Model string `json:"model" validate:"required"`
}

type notebookRequest struct {
	Content string `json:"content" validate:"max=500000"`
}

type expandRequest struct {
	Topic string `json:"topic" validate:"required,max=500"`
}

type stateResponse struct {
	Username       string                 `json:"username"`
	Model          string                 `json:"model"`
	Models         []string               `json:"models"`
	Busy           bool                   `json:"busy"`
	Turns          []render.ChatBlock     `json:"turns"`
	Notebook       string                 `json:"notebook"`
	Curriculum     *domain.Curriculum     `json:"curriculum"`
	CurriculumView *render.CurriculumView `json:"curriculum_view,omitempty"`
}

type turnResponse struct {
	Turn render.ChatBlock `json:"turn"`
}

type notebookResponse struct {
	Content string `json:"content"`
}

type curriculumResponse struct {
	Curriculum domain.Curriculum     `json:"curriculum"`
	View       render.CurriculumView `json:"view"`
}
