package validator

import (
	"sync"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/types"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the shared validator with the custom tags registered
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		// ymd accepts the date formats the CRM stores
		_ = validate.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
			_, ok := types.ParseDate(fl.Field().String())
			return ok
		})
	})
	return validate
}

func ValidateRequest(req interface{}) error {
	if err := GetValidator().Struct(req); err != nil {
		var validateErrs validator.ValidationErrors
		hint := "Request validation failed"
		if ierr.As(err, &validateErrs) && len(validateErrs) > 0 {
			hint = "Invalid value for " + validateErrs[0].Field()
		}
		return ierr.WithError(err).
			WithHint(hint).
			Mark(ierr.ErrValidation)
	}
	return nil
}
