package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var ErrValidation = errors.New("tool argument validation failed")

type ValidationError struct {
	Tool    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation error in %s.%s: %s", e.Tool, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var argValidate *validator.Validate

func init() {
	argValidate = validator.New()
	argValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = argValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = argValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
}

// DecodeArgs fills the tool's argument struct from raw model arguments and validates it.
func DecodeArgs(tool Tool, raw map[string]interface{}) (interface{}, error) {
	args := tool.NewArgs()
	if raw == nil {
		raw = map[string]interface{}{}
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, &ValidationError{Tool: tool.Name(), Field: "arguments", Message: err.Error()}
	}
	if err := json.Unmarshal(body, args); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{
				Tool:    tool.Name(),
				Field:   typeErr.Field,
				Message: fmt.Sprintf("Expected %s, got %s", kindName(typeErr.Type), typeErr.Value),
			}
		}
		return nil, &ValidationError{Tool: tool.Name(), Field: "arguments", Message: err.Error()}
	}

	if err := argValidate.Struct(args); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, &ValidationError{Tool: tool.Name(), Field: fe.Field(), Message: fieldMessage(fe)}
		}
		return nil, &ValidationError{Tool: tool.Name(), Field: "arguments", Message: err.Error()}
	}
	return args, nil
}

func fieldMessage(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Required field '%s' is missing", fe.Field())
	case "notblank":
		return "cannot be empty"
	case "uuid":
		return "must be a valid UUID"
	case "maxbytes":
		return fmt.Sprintf("Content too large (max %s bytes)", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("too long (max %s characters)", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		if isString {
			return fmt.Sprintf("too short (min %s characters)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must be greater than or equal to %s", snakeCase(fe.Param()))
	default:
		return fmt.Sprintf("failed the '%s' rule", fe.Tag())
	}
}

func kindName(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return t.String()
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
