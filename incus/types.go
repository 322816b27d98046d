// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import "time"

// Device is an Incus device definition: a string-keyed property map
// with at least a "type" entry ("disk", "gpu", ...).
type Device = map[string]string

// Instance is an Incus instance (container or VM) as returned by
// GET /1.0/instances/{name}. Only the fields kapsule reads are mapped;
// unknown fields are ignored.
type Instance struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	StatusCode  int               `json:"status_code"`
	Type        string            `json:"type"`
	CreatedAt   time.Time         `json:"created_at"`
	Config      map[string]string `json:"config"`
	Devices     map[string]Device `json:"devices"`
	Profiles    []string          `json:"profiles"`
}

// ImageDescription returns the human-readable image reference recorded
// in the instance config, or "unknown".
func (i *Instance) ImageDescription() string {
	if desc, ok := i.Config["image.description"]; ok && desc != "" {
		return desc
	}
	if os, ok := i.Config["image.os"]; ok && os != "" {
		return os
	}
	return "unknown"
}

// IsRunning reports whether the instance status is Running.
func (i *Instance) IsRunning() bool {
	return i.Status == "Running"
}

// InstanceState is the runtime state from
// GET /1.0/instances/{name}/state.
type InstanceState struct {
	Status     string    `json:"status"`
	StatusCode int       `json:"status_code"`
	Pid        int64     `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}

// InstanceSource describes where a new instance's image comes from.
type InstanceSource struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol,omitempty"`
	Server   string `json:"server,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

// InstancesPost is the request body for POST /1.0/instances.
type InstancesPost struct {
	Name     string            `json:"name"`
	Source   InstanceSource    `json:"source"`
	Config   map[string]string `json:"config,omitempty"`
	Devices  map[string]Device `json:"devices,omitempty"`
	Profiles []string          `json:"profiles,omitempty"`
	Start    bool              `json:"start"`
	Type     string            `json:"type,omitempty"`
}

// Profile is an Incus profile as returned by GET /1.0/profiles/{name}.
type Profile struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Config      map[string]string `json:"config"`
	Devices     map[string]Device `json:"devices"`
	UsedBy      []string          `json:"used_by"`
}

// ProfilesPost is the request body for POST /1.0/profiles.
type ProfilesPost struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Devices     map[string]Device `json:"devices,omitempty"`
}

// ProfilePut is the request body for PUT /1.0/profiles/{name}.
type ProfilePut struct {
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Devices     map[string]Device `json:"devices,omitempty"`
}

// Operation is an Incus background operation, as returned by the wait
// endpoint.
type Operation struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Err        string `json:"err"`
}
