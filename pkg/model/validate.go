package model

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// slugPattern is the identifier convention for all human-chosen names:
// a lowercase token of letters, digits, hyphens and underscores.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("failed to register slug validation: %v", err))
	}
	return v
}

// ValidSlug reports whether s satisfies the identifier convention.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// ValidateStruct validates an entity against its struct tags and wraps
// any failure as a validation error.
func ValidateStruct(entity any) error {
	if err := validate.Struct(entity); err != nil {
		return NewValidationError("invalid entity", err)
	}
	return nil
}

// ValidateIdentifierList checks that ids is a list of slug identifiers,
// as required for group include and exclude lists.
func ValidateIdentifierList(field string, ids []string) error {
	for _, id := range ids {
		if !ValidSlug(id) {
			return NewValidationError(
				fmt.Sprintf("%s must be a list of component identifiers, got %q", field, id), nil)
		}
	}
	return nil
}
