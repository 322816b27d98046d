// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import (
	"context"
	"net/http"
)

// CreateFile writes a file inside an instance via the files API, with
// the given ownership and octal mode string (e.g. "0644").
func (c *Client) CreateFile(ctx context.Context, instance, path string, content []byte, uid, gid int, mode string) error {
	header := modeHeader(uid, gid, mode)
	header.Set("Content-Type", "application/octet-stream")
	_, err := c.doRequest(ctx, http.MethodPost, instancePath(instance)+"/files"+fileQuery(path), content, header)
	return err
}

// MakeDirectory creates a directory inside an instance. An
// already-existing directory is a conflict error; callers that treat
// "exists" as success should check IsConflict.
func (c *Client) MakeDirectory(ctx context.Context, instance, path string, uid, gid int, mode string) error {
	header := modeHeader(uid, gid, mode)
	header.Set("X-Incus-type", "directory")
	_, err := c.doRequest(ctx, http.MethodPost, instancePath(instance)+"/files"+fileQuery(path), nil, header)
	return err
}

// CreateSymlink creates a symlink at path inside an instance pointing
// at target.
func (c *Client) CreateSymlink(ctx context.Context, instance, path, target string, uid, gid int) error {
	header := modeHeader(uid, gid, "")
	header.Set("X-Incus-type", "symlink")
	header.Set("Content-Type", "application/octet-stream")
	_, err := c.doRequest(ctx, http.MethodPost, instancePath(instance)+"/files"+fileQuery(path), []byte(target), header)
	return err
}
