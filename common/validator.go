package common

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the shared validator over a tagged payload and
// returns the validation errors, if any.
func ValidateStruct(payload interface{}) error {
	return validate.Struct(payload)
}
