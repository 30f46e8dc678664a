// ABOUTME: Declarative configuration schemas and the payload validator.
// ABOUTME: Plugins declare fields, users and admins submit flat payloads validated here.

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// FieldType is the type of a configuration field.
type FieldType string

const (
	FieldURL      FieldType = "url"
	FieldBoolean  FieldType = "boolean"
	FieldText     FieldType = "text"
	FieldLongText FieldType = "long_text"
	FieldPassword FieldType = "password"
	FieldNumber   FieldType = "number"
)

func (t FieldType) valid() bool {
	switch t {
	case FieldURL, FieldBoolean, FieldText, FieldLongText, FieldPassword, FieldNumber:
		return true
	}
	return false
}

// FieldSpec declares one configuration field of a plugin.
type FieldSpec struct {
	Name  string
	Type  FieldType
	Label string
	Help  string

	// Optional marks a field without default that may be omitted.
	// A field with a default is never required.
	Optional bool

	// Default is substituted when the field is absent. It is only used when
	// HasDefault is set, so a nil default can be expressed.
	Default    any
	HasDefault bool

	AllowNull  bool
	AllowBlank bool

	// Validator receives the coerced value and returns the normalized one.
	Validator func(value any) (any, error)
}

// WithDefault returns a copy of f with the given default.
func (f FieldSpec) WithDefault(v any) FieldSpec {
	f.Default = v
	f.HasDefault = true
	return f
}

// Required reports whether omitting the field fails validation.
func (f FieldSpec) Required() bool {
	return !f.Optional && !f.HasDefault
}

var (
	errNotString  = errors.New("not a valid string")
	errNotBoolean = errors.New("must be a valid boolean")
	errNotInteger = errors.New("a valid integer is required")
	errNotURL     = errors.New("enter a valid URL")
	errBlank      = errors.New("this field may not be blank")
	errNull       = errors.New("this field may not be null")
	errRequired   = errors.New("this field is required")
)

// Validate checks payload against schema and returns the normalized
// configuration. The result holds exactly the schema's field names; unknown
// payload keys are dropped. On failure no partial result is returned.
// Validating a result again returns it unchanged.
func Validate(plugin string, payload map[string]any, schema []FieldSpec) (map[string]any, error) {
	cleaned := make(map[string]any, len(schema))
	for _, field := range schema {
		raw, ok := payload[field.Name]
		if !ok {
			switch {
			case field.HasDefault:
				cleaned[field.Name] = field.Default
			case field.Required():
				return nil, &ConfigError{Plugin: plugin, Field: field.Name, Value: nil, Err: errRequired}
			default:
				cleaned[field.Name] = nil
			}
			continue
		}

		value, err := cleanField(field, raw)
		if err != nil {
			return nil, &ConfigError{Plugin: plugin, Field: field.Name, Value: raw, Err: err}
		}
		cleaned[field.Name] = value
	}
	return cleaned, nil
}

func cleanField(field FieldSpec, raw any) (any, error) {
	// Defaults are stored as declared and never validated.
	if field.HasDefault && reflect.DeepEqual(raw, field.Default) {
		return raw, nil
	}
	if raw == nil {
		if field.AllowNull || field.Optional {
			return nil, nil
		}
		return nil, errNull
	}

	value, err := coerce(field, raw)
	if err != nil {
		return nil, err
	}
	if field.Validator != nil {
		value, err = field.Validator(value)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func coerce(field FieldSpec, raw any) (any, error) {
	switch field.Type {
	case FieldBoolean:
		return toBool(raw)
	case FieldNumber:
		return toInt(raw)
	case FieldURL:
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		if s == "" {
			if field.AllowBlank {
				return s, nil
			}
			return nil, errBlank
		}
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, errNotURL
		}
		return s, nil
	default:
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" && !field.AllowBlank {
			return nil, errBlank
		}
		return s, nil
	}
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", errNotString
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && (n == 0 || n == 1) {
			return n == 1, nil
		}
	}
	return false, errNotBoolean
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		// float64(math.MaxInt) rounds up to 2^63, which int cannot hold.
		if v != math.Trunc(v) || v >= float64(math.MaxInt) || v < float64(math.MinInt) {
			return 0, errNotInteger
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, errNotInteger
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errNotInteger
		}
		return n, nil
	}
	return 0, errNotInteger
}

func checkSchema(plugin string, schema []FieldSpec) error {
	seen := make(map[string]bool, len(schema))
	for _, field := range schema {
		if field.Name == "" {
			return fmt.Errorf("plugin %s: schema field name cannot be empty", plugin)
		}
		if !field.Type.valid() {
			return fmt.Errorf("plugin %s: field %s has unknown type %q", plugin, field.Name, field.Type)
		}
		if seen[field.Name] {
			return fmt.Errorf("plugin %s: duplicate schema field %s", plugin, field.Name)
		}
		seen[field.Name] = true
	}
	return nil
}
