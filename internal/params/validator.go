// Package params validates user-supplied parameter sets against a script's
// declared schema and normalizes them for fingerprinting. Pure functions,
// no IO, no shared state.
package params

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cadforge/api/internal/model"
)

const stepTolerance = 1e-9

// Resolve merges a named preset (if any) under the caller's explicit
// parameters and validates the result against the script's schema.
func Resolve(script *model.ScriptDescriptor, preset string, raw map[string]any) (map[string]any, error) {
	merged := raw
	if preset != "" {
		base := script.Preset(preset)
		if base == nil {
			return nil, &model.ValidationError{Param: "preset", Reason: fmt.Sprintf("unknown preset %q", preset)}
		}
		merged = make(map[string]any, len(base)+len(raw))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range raw {
			merged[k] = v
		}
	}
	return Validate(script.Params, merged)
}

// Validate checks rawParams against the schema and returns a normalized
// parameter set: every schema entry present, every value coerced to its
// declared type and checked against its constraints. The schema is closed:
// unknown parameter names are rejected so typos never produce a fresh
// fingerprint.
func Validate(schema map[string]*model.ParamSpec, rawParams map[string]any) (map[string]any, error) {
	for name := range rawParams {
		if _, ok := schema[name]; !ok {
			return nil, &model.ValidationError{Param: name, Reason: "unknown parameter"}
		}
	}

	validated := make(map[string]any, len(schema))

	// deterministic order so the first error is stable
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := schema[name]
		raw, supplied := rawParams[name]
		if !supplied {
			if spec.Default == nil {
				return nil, &model.ValidationError{Param: name, Reason: "required parameter missing and no default declared"}
			}
			raw = spec.Default
		}

		value, err := coerce(spec, raw)
		if err != nil {
			return nil, err
		}
		validated[name] = value
	}

	return validated, nil
}

func coerce(spec *model.ParamSpec, raw any) (any, error) {
	switch spec.Type {
	case model.ParamNumber:
		return coerceNumber(spec, raw)
	case model.ParamBoolean:
		return coerceBoolean(spec, raw)
	case model.ParamText:
		return coerceText(spec, raw)
	case model.ParamOptions:
		return coerceOptions(spec, raw)
	default:
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("unknown parameter type %q", spec.Type)}
	}
}

func coerceNumber(spec *model.ParamSpec, raw any) (any, error) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("not a number: %q", n)}
		}
		v = parsed
	default:
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("expected number, got %T", raw)}
	}

	if spec.Min != nil && v < *spec.Min {
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("value %v below minimum %v", v, *spec.Min)}
	}
	if spec.Max != nil && v > *spec.Max {
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("value %v above maximum %v", v, *spec.Max)}
	}
	if spec.Step != nil && *spec.Step > 0 {
		base := 0.0
		if spec.Min != nil {
			base = *spec.Min
		}
		steps := (v - base) / *spec.Step
		if math.Abs(steps-math.Round(steps)) > stepTolerance {
			return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("value %v not aligned to step %v", v, *spec.Step)}
		}
	}
	return v, nil
}

func coerceBoolean(spec *model.ParamSpec, raw any) (any, error) {
	switch b := raw.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("not a boolean: %q", b)}
	default:
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("expected boolean, got %T", raw)}
	}
}

func coerceText(spec *model.ParamSpec, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("expected text, got %T", raw)}
	}
	// length limits count characters, not bytes
	n := utf8.RuneCountInString(s)
	if spec.MinLength != nil && n < *spec.MinLength {
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("text shorter than %d characters", *spec.MinLength)}
	}
	if spec.MaxLength != nil && n > *spec.MaxLength {
		return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("text longer than %d characters", *spec.MaxLength)}
	}
	return s, nil
}

func coerceOptions(spec *model.ParamSpec, raw any) (any, error) {
	s := fmt.Sprintf("%v", raw)
	for _, opt := range spec.Options {
		if s == opt {
			return s, nil
		}
	}
	return nil, &model.ValidationError{Param: spec.Name, Reason: fmt.Sprintf("value %q not in allowed options", s)}
}
