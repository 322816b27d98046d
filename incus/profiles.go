// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import (
	"context"
	"net/http"
)

// GetProfile fetches a profile by name.
func (c *Client) GetProfile(ctx context.Context, name string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, profilePath(name), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ProfileExists reports whether a profile with the given name exists.
func (c *Client) ProfileExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetProfile(ctx, name)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateProfile creates a new profile. A name collision surfaces as a
// conflict error.
func (c *Client) CreateProfile(ctx context.Context, request ProfilesPost) error {
	return c.do(ctx, http.MethodPost, "/1.0/profiles", request, nil)
}

// UpdateProfile replaces a profile's content in place. Incus permits
// this even while the profile is attached to running instances, which
// is why the reconciler updates rather than recreating.
func (c *Client) UpdateProfile(ctx context.Context, name string, request ProfilePut) error {
	return c.do(ctx, http.MethodPut, profilePath(name), request, nil)
}
