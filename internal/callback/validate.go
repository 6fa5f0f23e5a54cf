package callback

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their wire names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).Valid()
	})
	return v
}

// invalidFrom maps the first validator failure onto an InvalidRecordError.
func invalidFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]

	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = "must be at most " + fe.Param() + " characters"
	case "kind":
		reason = "is not a known kind"
	}
	return &InvalidRecordError{Field: fe.Field(), Reason: reason}
}
