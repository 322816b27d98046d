// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import (
	"context"
	"net/http"
)

// ListInstances returns all instances with full objects (recursion=1).
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	if err := c.do(ctx, http.MethodGet, "/1.0/instances?recursion=1", nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstance fetches a single instance by name.
func (c *Client) GetInstance(ctx context.Context, name string) (*Instance, error) {
	var instance Instance
	if err := c.do(ctx, http.MethodGet, instancePath(name), nil, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// InstanceExists reports whether an instance with the given name
// exists. A not-found error is absorbed; other failures propagate.
func (c *Client) InstanceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetInstance(ctx, name)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetInstanceState fetches the runtime state (status, pid, boot time)
// of an instance.
func (c *Client) GetInstanceState(ctx context.Context, name string) (*InstanceState, error) {
	var state InstanceState
	if err := c.do(ctx, http.MethodGet, instancePath(name)+"/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CreateInstance creates an instance and waits for the background
// operation (image download included) to finish.
func (c *Client) CreateInstance(ctx context.Context, request InstancesPost) error {
	return c.do(ctx, http.MethodPost, "/1.0/instances", request, nil)
}

// DeleteInstance removes an instance and waits for completion. The
// instance must be stopped.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, instancePath(name), nil, nil)
}

// instanceStatePut is the body for PUT /1.0/instances/{name}/state.
type instanceStatePut struct {
	Action  string `json:"action"`
	Timeout int    `json:"timeout"`
	Force   bool   `json:"force"`
}

// StartInstance starts a stopped instance and waits for completion.
func (c *Client) StartInstance(ctx context.Context, name string) error {
	body := instanceStatePut{Action: "start", Timeout: -1}
	return c.do(ctx, http.MethodPut, instancePath(name)+"/state", body, nil)
}

// StopInstance stops a running instance and waits for completion.
// force kills the instance instead of signalling a clean shutdown.
func (c *Client) StopInstance(ctx context.Context, name string, force bool) error {
	body := instanceStatePut{Action: "stop", Timeout: -1, Force: force}
	return c.do(ctx, http.MethodPut, instancePath(name)+"/state", body, nil)
}

// instancePatch is the body for PATCH /1.0/instances/{name}. Incus
// merges the supplied maps into the existing instance definition.
type instancePatch struct {
	Config  map[string]string `json:"config,omitempty"`
	Devices map[string]Device `json:"devices,omitempty"`
}

// AddDevice attaches a device to an instance. Device names are
// deterministic in kapsule, so re-adding an identical device is a
// merge no-op rather than a duplicate.
func (c *Client) AddDevice(ctx context.Context, name, deviceName string, device Device) error {
	body := instancePatch{Devices: map[string]Device{deviceName: device}}
	return c.do(ctx, http.MethodPatch, instancePath(name), body, nil)
}

// PatchConfig merges config keys into an instance's configuration.
func (c *Client) PatchConfig(ctx context.Context, name string, config map[string]string) error {
	body := instancePatch{Config: config}
	return c.do(ctx, http.MethodPatch, instancePath(name), body, nil)
}
