package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf16"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

// PasswordRequirement describes the password rule to end users.
const PasswordRequirement = "must be at least 8 characters and include an uppercase letter, a lowercase letter, a number and a special character"

// NewValidator returns a validator with the project's custom rules registered.
// Field names in errors follow the json tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	return v
}

// IsStrongPassword requires a single line of at least 8 characters with a
// lowercase letter, an uppercase letter, a digit and one other character.
// Length is counted in UTF-16 code units, as browsers count it.
func IsStrongPassword(pw string) bool {
	var n int
	var lower, upper, digit, special bool
	for _, r := range pw {
		if units := utf16.RuneLen(r); units > 0 {
			n += units
		} else {
			n++
		}
		switch {
		case r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029':
			return false
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	return n >= 8 && lower && upper && digit && special
}

// validationError converts validator output into a 400 carrying a
// field -> reason map in Details.
func validationError(err error, message string) *appErrors.Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describeFieldError(fe)
	}
	out := appErrors.WithDetails(appErrors.ErrValidation, message, details)
	out.Err = err
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "password":
		return PasswordRequirement
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "uuid":
		return "must be a valid UUID"
	}
	return "is invalid"
}
