package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Echo compatible validator with proper tag semantics
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

// New builds the struct validator used for request bodies and config. Besides the
// stock tags it understands `personname`, which applies ValidateName to a string field.
func New() CustomValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		jsonName := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if jsonName == "-" {
			return ""
		}
		if jsonName == "" {
			return field.Name
		}
		return jsonName
	})

	err := validate.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return ValidateName(fl.Field().String()).Valid
	})
	if err != nil {
		panic(fmt.Sprintf("registering personname validation: %v", err))
	}

	return CustomValidator{validator: validate}
}

// FieldErrors flattens validator errors into field -> failed tag, for JSON error bodies.
func FieldErrors(err error) map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	fields := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		fields[fieldError.Field()] = fmt.Sprintf(
			"Failed to validate while checking condition: %s",
			fieldError.Tag(),
		)
	}
	return fields
}
