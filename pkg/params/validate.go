// Package params validates raw, string-valued arguments against a
// descriptor's parameter schema. Every field is checked before returning so
// the caller sees all problems in one pass.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Validate coerces raw arguments to the declared types, applies defaults and
// checks allowed values. On success the returned map holds a value for every
// supplied or defaulted field; on failure the error is a
// capability.ValidationErrors holding every violation.
func Validate(d *capability.Descriptor, raw map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(d.ParameterSchema))
	var errs capability.ValidationErrors

	for _, spec := range d.ParameterSchema {
		rawValue, present := raw[spec.Name]

		var value any
		switch {
		case present:
			v, err := coerce(spec.Type, rawValue)
			if err != nil {
				errs = append(errs, fieldError(d, spec, capability.CodeTypeMismatch, rawValue, err.Error()))
				continue
			}
			value = v
		case spec.Required:
			errs = append(errs, fieldError(d, spec, capability.CodeMissingRequired, "", "required field is missing"))
			continue
		case spec.HasDefault():
			v, err := coerceDefault(spec)
			if err != nil {
				errs = append(errs, fieldError(d, spec, capability.CodeTypeMismatch, fmt.Sprint(spec.Default), "declared default: "+err.Error()))
				continue
			}
			value = v
		default:
			continue
		}

		if bad := disallowed(spec, value); len(bad) > 0 {
			errs = append(errs, fieldError(d, spec, capability.CodeInvalidEnumValue, strings.Join(bad, ","),
				fmt.Sprintf("value %s is not one of [%s]", quoteAll(bad), strings.Join(spec.AllowedValues, ", "))))
			continue
		}
		resolved[spec.Name] = value
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return resolved, nil
}

// Unknown returns the sorted raw argument names that the descriptor does not
// declare
func Unknown(d *capability.Descriptor, raw map[string]string) []string {
	var out []string
	for name := range raw {
		if _, ok := d.Param(name); !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func coerce(t capability.ParamType, raw string) (any, error) {
	switch t {
	case capability.ParamBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Errorf("expected a boolean, got %q", raw)
		}
		return b, nil
	case capability.ParamInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case capability.ParamList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

// coerceDefault normalises a declared default, which may come from YAML as
// an int, bool, string or list, to the declared parameter type
func coerceDefault(spec capability.ParameterSpec) (any, error) {
	switch v := spec.Default.(type) {
	case []string:
		if spec.Type != capability.ParamList {
			return nil, errors.Errorf("list default for %s parameter", spec.Type)
		}
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		if spec.Type != capability.ParamList {
			return nil, errors.Errorf("list default for %s parameter", spec.Type)
		}
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return coerce(spec.Type, fmt.Sprint(v))
	}
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// disallowed returns the values of v that fall outside spec.AllowedValues
func disallowed(spec capability.ParameterSpec, v any) []string {
	if len(spec.AllowedValues) == 0 {
		return nil
	}
	var values []string
	switch typed := v.(type) {
	case []string:
		values = typed
	default:
		values = []string{fmt.Sprint(typed)}
	}

	var bad []string
	for _, value := range values {
		if !spec.Allows(value) {
			bad = append(bad, value)
		}
	}
	return bad
}

func fieldError(d *capability.Descriptor, spec capability.ParameterSpec, code, value, msg string) *capability.FieldError {
	return &capability.FieldError{
		DescriptorID: d.ID,
		Field:        spec.Name,
		Code:         code,
		Value:        value,
		Message:      msg,
	}
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, ", ")
}
