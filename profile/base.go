// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/plan"
)

// BaseName is the profile every kapsule container is created with.
const BaseName = "kapsule-base"

// Base returns the built-in base profile definition. Containers run
// privileged with nesting so host uids map straight through and podman
// works inside; the network namespace is shared with the host so
// desktop sockets and localhost services behave as if native.
//
// Instance-level devices override these by name, so a container created
// with gpu or host_rootfs disabled masks the corresponding device.
func Base() Definition {
	return Definition{
		Name:        BaseName,
		Description: "Kapsule developer container base",
		Config: map[string]string{
			"security.privileged": "true",
			"security.nesting":    "true",
			"raw.lxc":             "lxc.net.0.type=none",
		},
		Devices: map[string]incus.Device{
			"root":   plan.RootDevice(),
			"gpu":    plan.GPUDevice(),
			"hostfs": plan.HostfsDevice(),
		},
	}
}
