package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report fields by their wire names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}

// ReadAndValidateRequest binds path, query and body into req, applies
// `default` tags and validates. It returns []ValidationError or nil.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return validatorDefaultRules(err)
	}

	if err := defaults.Set(req); err != nil {
		return validatorDefaultRules(err)
	}

	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validatorDefaultRules(err)
	}

	return nil
}

func validatorDefaultRules(err error) interface{} {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, toValidationError(fe))
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

// ruleMessages maps a validator tag to its message format and the name the
// tag parameter is reported under. Formats receive field and parameter.
var ruleMessages = map[string]struct{ format, param string }{
	"required": {"%s is required%.0s", ""},
	"url":      {"%s must be a valid URL%.0s", ""},
	"min":      {"%s must contain at least %s", "min"},
	"max":      {"%s must contain at most %s", "max"},
	"gt":       {"%s must be greater than %s", "value"},
	"gte":      {"%s must be greater than or equal to %s", "min"},
	"lt":       {"%s must be less than %s", "value"},
	"lte":      {"%s must be less than or equal to %s", "max"},
	"oneof":    {"%s must be one of: %s", "options"},
}

func toValidationError(fe validator.FieldError) ValidationError {
	ve := ValidationError{
		Code:   "ERR_" + strings.ToUpper(fe.Tag()),
		Field:  fe.Field(),
		Params: map[string]interface{}{},
	}

	rule, ok := ruleMessages[fe.Tag()]
	if !ok {
		ve.Message = fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
		return ve
	}

	param := fe.Param()
	switch fe.Tag() {
	case "oneof":
		ve.Params[rule.param] = strings.Fields(param)
		param = strings.Join(strings.Fields(param), ", ")
	case "min", "max":
		ve.Params[rule.param] = param
		if fe.Kind() == reflect.String {
			param += " characters"
		} else if fe.Kind() == reflect.Slice {
			param += " items"
		}
	default:
		if rule.param != "" {
			ve.Params[rule.param] = param
		}
	}
	ve.Message = fmt.Sprintf(rule.format, fe.Field(), param)
	return ve
}
