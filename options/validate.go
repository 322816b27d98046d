// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package options

import (
	"fmt"
	"sort"
)

// Reason is the category of a validation failure.
type Reason int

const (
	// ReasonUnknownKey means the caller supplied a key the schema does
	// not declare.
	ReasonUnknownKey Reason = iota

	// ReasonTypeMismatch means a supplied value does not match the
	// option's declared type.
	ReasonTypeMismatch

	// ReasonDependency means an option was engaged while one of its
	// required prerequisites has a different effective value.
	ReasonDependency
)

// ValidationError reports why an option map was rejected. It is
// returned before any backend state is touched.
type ValidationError struct {
	Reason Reason

	// Key is the offending option.
	Key string

	// Dependency is the prerequisite key for ReasonDependency.
	Dependency string

	// Message is the human-readable description.
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate normalizes a sparse option map into Options.
//
// Steps, in order: unknown keys are rejected; missing keys take their
// schema defaults; every supplied value is type-checked; "requires"
// constraints are evaluated against effective values (supplied or
// default). Validate is pure — it never touches the backend — and is
// run both at the D-Bus boundary and again inside the create operation
// before any mutation.
func Validate(raw map[string]any) (Options, error) {
	// Unknown keys first, reported in stable order.
	var unknown []string
	for key := range raw {
		if _, ok := byKey[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Options{}, &ValidationError{
			Reason:  ReasonUnknownKey,
			Key:     unknown[0],
			Message: fmt.Sprintf("unknown option %q", unknown[0]),
		}
	}

	// Merge defaults with supplied values, type-checking as we go.
	effective := make(map[string]any, len(byKey))
	for key, option := range byKey {
		supplied, ok := raw[key]
		if !ok {
			effective[key] = defaultValue(option)
			continue
		}
		value, err := coerce(option, supplied)
		if err != nil {
			return Options{}, err
		}
		effective[key] = value
	}

	// Dependency constraints. A constraint only binds while its option
	// is engaged: a boolean that is true, or a string/array that is
	// non-empty. A disabled option never blocks validation no matter
	// what its prerequisites look like.
	for key, option := range byKey {
		if len(option.Requires) == 0 || !engaged(effective[key]) {
			continue
		}
		required := make([]string, 0, len(option.Requires))
		for requiredKey := range option.Requires {
			required = append(required, requiredKey)
		}
		sort.Strings(required)
		for _, requiredKey := range required {
			if effective[requiredKey] != option.Requires[requiredKey] {
				return Options{}, &ValidationError{
					Reason:     ReasonDependency,
					Key:        key,
					Dependency: requiredKey,
					Message: fmt.Sprintf("option %q requires %q to be %v",
						key, requiredKey, option.Requires[requiredKey]),
				}
			}
		}
	}

	return Options{
		SessionMode:   effective["session_mode"].(bool),
		DBusMux:       effective["dbus_mux"].(bool),
		HostRootfs:    effective["host_rootfs"].(bool),
		MountHome:     effective["mount_home"].(bool),
		CustomMounts:  effective["custom_mounts"].([]string),
		GPU:           effective["gpu"].(bool),
		NvidiaDrivers: effective["nvidia_drivers"].(bool),
	}, nil
}

// defaultValue converts an option's JSON-decoded default into its
// runtime type.
func defaultValue(option Option) any {
	if option.Type == TypeArray {
		// JSON decodes the default [] as []any.
		return []string{}
	}
	return option.Default
}

// coerce type-checks a supplied value. Array values arrive either as
// []string (from D-Bus variants) or []any (from JSON decoding).
func coerce(option Option, value any) (any, error) {
	mismatch := func(got any) error {
		return &ValidationError{
			Reason: ReasonTypeMismatch,
			Key:    option.Key,
			Message: fmt.Sprintf("option %q must be %s, got %T",
				option.Key, option.Type, got),
		}
	}

	switch option.Type {
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, mismatch(value)
		}
		return b, nil
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, mismatch(value)
		}
		return s, nil
	case TypeArray:
		switch v := value.(type) {
		case []string:
			return append([]string(nil), v...), nil
		case []any:
			elements := make([]string, 0, len(v))
			for i, element := range v {
				s, ok := element.(string)
				if !ok {
					return nil, &ValidationError{
						Reason: ReasonTypeMismatch,
						Key:    option.Key,
						Message: fmt.Sprintf("option %q element %d must be a string, got %T",
							option.Key, i, element),
					}
				}
				elements = append(elements, s)
			}
			return elements, nil
		default:
			return nil, mismatch(value)
		}
	default:
		return nil, fmt.Errorf("options: schema declares unsupported type %q for %q", option.Type, option.Key)
	}
}

// engaged reports whether an effective value activates its option's
// dependency constraints.
func engaged(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case []string:
		return len(v) > 0
	default:
		return false
	}
}
