package chessdto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the `validate` tags of v and folds failures into a
// single Validation error.
func ValidateStruct(v any) error {
	return describe(validate.Struct(v), "")
}

// ValidateVar checks one value against tag; name labels it in the message.
func ValidateVar(name string, value any, tag string) error {
	return describe(validate.Var(value, tag), name)
}

func describe(err error, name string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation("invalid request: %v", err)
	}
	var details strings.Builder
	for _, fe := range verrs {
		field := fe.Field()
		if field == "" {
			field = name
		}
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		isString := fe.Kind() == reflect.String
		switch fe.Tag() {
		case "required":
			fmt.Fprintf(&details, "%s is required", field)
		case "min":
			if isString {
				fmt.Fprintf(&details, "%s must be at least %s characters", field, fe.Param())
			} else {
				fmt.Fprintf(&details, "%s must be at least %s", field, fe.Param())
			}
		case "max":
			if isString {
				fmt.Fprintf(&details, "%s must be at most %s characters", field, fe.Param())
			} else {
				fmt.Fprintf(&details, "%s must be at most %s", field, fe.Param())
			}
		case "gt", "gte":
			fmt.Fprintf(&details, "%s must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
		case "excludesall":
			fmt.Fprintf(&details, "%s contains a forbidden character", field)
		default:
			fmt.Fprintf(&details, "%s failed %s validation", field, fe.Tag())
		}
	}
	return Validation("%s", details.String())
}
