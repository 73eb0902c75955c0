package jobs

import (
	"strconv"

	"github.com/ternarybob/tego/internal/engine"
)

// Argument coercion helpers. Jobs verify presence with VerifyParameters
// first; these helpers then pin down the dynamic types, which vary with the
// source of the arguments (pipeline JSON, generator-built values, overrides
// from tests).

func stringArg(args engine.Args, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok {
		return "", engine.NewJobError("parameter %s is not a string", key)
	}
	return value, nil
}

func optionalStringArg(args engine.Args, key, fallback string) (string, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return stringArg(args, key)
}

// boolArg treats absent and non-boolean values as false.
func boolArg(args engine.Args, key string) bool {
	value, _ := args[key].(bool)
	return value
}

func optionalBoolArg(args engine.Args, key string, fallback bool) bool {
	if _, ok := args[key]; !ok {
		return fallback
	}
	return boolArg(args, key)
}

func floatArg(args engine.Args, key string) (float64, error) {
	value, ok := args[key]
	if !ok {
		return 0, engine.NewJobError("missing parameter %s", key)
	}
	return coerceFloat(key, value)
}

func optionalFloatArg(args engine.Args, key string, fallback float64) (float64, error) {
	if _, ok := args[key]; !ok {
		return fallback, nil
	}
	return floatArg(args, key)
}

// coerceFloat accepts every numeric shape the argument sources produce,
// plus numeric strings.
func coerceFloat(key string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, engine.NewJobError("parameter %s is not a number", key)
		}
		return parsed, nil
	default:
		return 0, engine.NewJobError("parameter %s is not a number", key)
	}
}

func intArg(args engine.Args, key string) (int, error) {
	value, err := floatArg(args, key)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

func stringListArg(args engine.Args, key string) ([]string, error) {
	switch v := args[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, engine.NewJobError("parameter %s is not a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, engine.NewJobError("parameter %s is not a list of strings", key)
	}
}

func optionalStringListArg(args engine.Args, key string) ([]string, error) {
	if _, ok := args[key]; !ok {
		return []string{}, nil
	}
	return stringListArg(args, key)
}

func listArg(args engine.Args, key string) ([]any, error) {
	value, ok := args[key].([]any)
	if !ok {
		return nil, engine.NewJobError("parameter %s is not a list", key)
	}
	return value, nil
}

func optionalListArg(args engine.Args, key string) ([]any, error) {
	if _, ok := args[key]; !ok {
		return []any{}, nil
	}
	return listArg(args, key)
}

// anySlice widens a typed slice for storage in job arguments.
func anySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}
