// Package common provides runtime configuration overrides.
//
// The debug API accepts a flat map of dotted keys that follow the TOML
// layout of the configuration file. Each key is resolved against the Config
// struct by walking its toml tags, and the leaf field is set from the
// JSON-decoded value.
//
// Example:
//
//	Input:  {"services.arxlet.url": "http://arxlet:8080", "server.port": 9090}
//	Effect: config.Services.ARXlet.URL and config.Server.Port are updated
package common

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ternarybob/arbor"
)

// ApplyOverrides applies a flat map of dotted configuration keys onto the
// config struct in-place. An unknown key or a value of the wrong type fails
// the whole call without applying the remaining overrides.
func ApplyOverrides(config *Config, overrides map[string]interface{}, logger arbor.ILogger) error {
	val := reflect.ValueOf(config)

	// Must be a pointer for in-place mutation
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("ApplyOverrides requires a pointer, got %T", config)
	}
	val = val.Elem()

	for key, value := range overrides {
		if err := applyOverride(val, key, value, logger); err != nil {
			return fmt.Errorf("failed to apply override '%s': %w", key, err)
		}
	}

	return nil
}

// applyOverride resolves one dotted key against the struct and sets the leaf field
func applyOverride(val reflect.Value, key string, value interface{}, logger arbor.ILogger) error {
	segments := strings.Split(key, ".")

	field := val
	for i, segment := range segments {
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return fmt.Errorf("nil pointer at '%s'", strings.Join(segments[:i], "."))
			}
			field = field.Elem()
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("'%s' is not a section", strings.Join(segments[:i], "."))
		}

		next, found := fieldByTag(field, segment)
		if !found {
			return fmt.Errorf("unknown key segment '%s'", segment)
		}
		field = next
	}

	oldValue := fmt.Sprintf("%v", field.Interface())
	if err := setFieldValue(field, value); err != nil {
		return err
	}

	logger.Debug().
		Str("key", key).
		Str("old", oldValue).
		Str("new", fmt.Sprintf("%v", field.Interface())).
		Msg("Applied configuration override")

	return nil
}

// fieldByTag finds the exported struct field whose toml tag matches name
func fieldByTag(val reflect.Value, name string) (reflect.Value, bool) {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		tag := typ.Field(i).Tag.Get("toml")
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == name {
			return field, true
		}
	}

	return reflect.Value{}, false
}

// setFieldValue coerces a JSON-decoded value onto the leaf field
func setFieldValue(field reflect.Value, value interface{}) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	switch field.Kind() {
	case reflect.String:
		// Covers plain strings and the Secret type
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		field.SetString(s)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// JSON numbers decode as float64
		switch v := value.(type) {
		case float64:
			field.SetInt(int64(v))
		case int:
			field.SetInt(int64(v))
		case int64:
			field.SetInt(v)
		default:
			return fmt.Errorf("expected number, got %T", value)
		}

	case reflect.Float32, reflect.Float64:
		switch v := value.(type) {
		case float64:
			field.SetFloat(v)
		case int:
			field.SetFloat(float64(v))
		default:
			return fmt.Errorf("expected number, got %T", value)
		}

	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %v", field.Type())
		}
		items, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		slice := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string at index %d, got %T", i, item)
			}
			slice.Index(i).SetString(s)
		}
		field.Set(slice)

	case reflect.Struct:
		return fmt.Errorf("'%v' is a section, not a value", field.Type())

	default:
		return fmt.Errorf("unsupported field type %v", field.Type())
	}

	return nil
}
