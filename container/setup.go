// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kapsule-project/kapsule/options"
	"github.com/kapsule-project/kapsule/plan"
)

// setupUser makes a host user exist inside a container: matching
// group and account, home directory (mounted or created), passwordless
// sudo, extra mounts, and in session mode a lingering user manager.
// Runs once per (container, user); the mapped marker records success.
//
// Per-mount failures are warnings. Only the user account itself is
// fatal, since without it the entry shell cannot start.
func (s *Service) setupUser(ctx context.Context, name string, id plan.Identity, opts options.Options) ([]string, error) {
	var warnings []string
	uid := strconv.Itoa(id.UID)

	// Host ids map straight through in a privileged container, so the
	// container-side group and user carry the host uid, with gid=uid
	// in the usual single-user-group convention.
	if err := s.execIn(ctx, name, "groupadd", "--gid", uid, id.Username); err != nil {
		return nil, fmt.Errorf("creating group for %s: %w", id.Username, err)
	}
	err := s.execIn(ctx, name,
		"useradd",
		"--uid", uid,
		"--gid", uid,
		"--home-dir", id.HomeDir,
		"--no-create-home",
		"--shell", "/bin/bash",
		id.Username)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", id.Username, err)
	}

	if opts.MountHome {
		device := plan.HomeDevice(id.HomeDir)
		if err := s.Backend.AddDevice(ctx, name, plan.HomeDeviceName(id.Username), device); err != nil {
			return nil, fmt.Errorf("mounting home of %s: %w", id.Username, err)
		}
		s.Log.Info("home directory mounted", "container", name, "user", id.Username)
	} else {
		if err := s.Backend.MakeDirectory(ctx, name, id.HomeDir, id.UID, id.UID, "0700"); err != nil {
			return nil, fmt.Errorf("creating home of %s: %w", id.Username, err)
		}
	}

	sudoers := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", id.Username)
	err = s.Backend.CreateFile(ctx, name,
		"/etc/sudoers.d/50-kapsule-"+id.Username, []byte(sudoers), 0, 0, "0440")
	if err != nil {
		return nil, fmt.Errorf("granting sudo to %s: %w", id.Username, err)
	}

	for _, mount := range opts.CustomMounts {
		if _, err := s.stat(mount); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping mount %s: not present on host", mount))
			continue
		}
		if err := s.Backend.AddDevice(ctx, name, plan.MountDeviceName(mount), plan.MountDevice(mount)); err != nil {
			warnings = append(warnings, fmt.Sprintf("mounting %s: %v", mount, err))
		}
	}

	if opts.IntegrationMode() != options.ModeDefault {
		// The per-user bus needs a user manager that outlives login
		// sessions.
		if err := s.execIn(ctx, name, "loginctl", "enable-linger", id.Username); err != nil {
			warnings = append(warnings, fmt.Sprintf("enabling linger for %s: %v", id.Username, err))
		}
	}

	if err := s.Backend.PatchConfig(ctx, name, map[string]string{mappedKey(id.UID): "true"}); err != nil {
		return nil, fmt.Errorf("recording user mapping: %w", err)
	}
	s.Log.Info("user set up", "container", name, "user", id.Username, "uid", id.UID)
	return warnings, nil
}
