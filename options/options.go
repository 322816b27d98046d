// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package options

// Mode is the container's bus integration mode, derived from the
// session_mode and dbus_mux options.
type Mode int

const (
	// ModeDefault shares the host's session bus with the container:
	// the container's bus socket path points at the host socket, so
	// host services are visible inside.
	ModeDefault Mode = iota

	// ModeSession gives the container its own native session bus. The
	// bus socket path must stay untouched so the container's own bus
	// daemon can create the real socket there.
	ModeSession

	// ModeMux layers a multiplexer that blends host and container
	// buses behind the container's bus socket path.
	ModeMux
)

func (m Mode) String() string {
	switch m {
	case ModeSession:
		return "Session"
	case ModeMux:
		return "DbusMux"
	default:
		return "Default"
	}
}

// Options is the normalized result of validating a caller-supplied
// option map. Every field is populated — callers never see a sparse
// map. The field set mirrors the schema keys one to one.
type Options struct {
	SessionMode   bool
	DBusMux       bool
	HostRootfs    bool
	MountHome     bool
	CustomMounts  []string
	GPU           bool
	NvidiaDrivers bool
}

// Defaults returns Options populated with every schema default.
func Defaults() Options {
	normalized, err := Validate(nil)
	if err != nil {
		// The empty map validates by construction.
		panic("options: defaults failed validation: " + err.Error())
	}
	return normalized
}

// IntegrationMode derives the bus integration mode.
func (o Options) IntegrationMode() Mode {
	switch {
	case o.DBusMux:
		return ModeMux
	case o.SessionMode:
		return ModeSession
	default:
		return ModeDefault
	}
}

// wireMap converts Options back into the schema's wire representation.
// Re-validating this map is a no-op, which is what makes validation
// idempotent.
func (o Options) wireMap() map[string]any {
	return map[string]any{
		"session_mode":   o.SessionMode,
		"dbus_mux":       o.DBusMux,
		"host_rootfs":    o.HostRootfs,
		"mount_home":     o.MountHome,
		"custom_mounts":  o.CustomMounts,
		"gpu":            o.GPU,
		"nvidia_drivers": o.NvidiaDrivers,
	}
}

// WireMap is the exported form of wireMap, used when option values are
// persisted as instance metadata.
func (o Options) WireMap() map[string]any { return o.wireMap() }
