package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var cprPattern = regexp.MustCompile(`^\d{9}$`)

// LoginInput is what a user types on the sign-in form.
type LoginInput struct {
	CPR      string `json:"cpr" validate:"required,cpr"`
	Password string `json:"password" validate:"required"`
}

// RoleInput is the administrator's role assignment. An empty role clears it.
type RoleInput struct {
	Role string `json:"role" validate:"omitempty,oneof=Admin 'EDD Planning' 'Consultation Team'"`
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Custom validators
	v.RegisterValidation("cpr", validateCPR)

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

func validateCPR(fl validator.FieldLevel) bool {
	return cprPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

// Message renders a validation failure as one user-facing sentence.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", label(fe.Field()))
	case "cpr":
		return "CPR must be exactly 9 digits."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label(fe.Field()), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", label(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid.", label(fe.Field()))
	}
}

func label(field string) string {
	switch field {
	case "CPR":
		return "CPR"
	case "WayleaveNumber":
		return "Wayleave number"
	case "USPNumber":
		return "USP number"
	case "RCCNumber":
		return "RCC number"
	case "MSPNumber":
		return "MSP number"
	default:
		return field
	}
}

// IsValidation reports whether err came from Validate.
func IsValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
