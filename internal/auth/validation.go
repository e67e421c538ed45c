package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=user vendor"`
}

type federatedInput struct {
	Token string `json:"token" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validateInput runs struct validation and converts violations into a Failure.
func validateInput(v *validator.Validate, input any) error {
	err := v.Struct(input)
	if err == nil {
		return nil
	}
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return &Failure{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	fields := make(map[string]string, len(violations))
	for _, fieldErr := range violations {
		fields[fieldErr.Field()] = describe(fieldErr)
	}
	return &Failure{Kind: KindValidation, Message: "please fill in all fields correctly", Fields: fields}
}

func describe(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fieldErr.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fieldErr.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fieldErr.Param(), " ", ", ")
	default:
		return fieldErr.Error()
	}
}
