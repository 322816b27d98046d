// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"strings"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/options"
)

// HostPrefix is where the full host filesystem appears inside the
// container when the host_rootfs option is enabled.
const HostPrefix = "/.kapsule/host"

// x11MountPath holds the targeted /tmp/.X11-unix mount in minimal mode.
// Targeted mounts land at the same relative path under HostPrefix as the
// full-root mount would put them, so entry paths do not depend on the
// host_rootfs option.
const x11MountPath = HostPrefix + "/tmp/.X11-unix"

// CreationDevices returns the permanent device set for a new container.
// The base profile already carries root, gpu, and hostfs devices; the
// instance set pins them explicitly when enabled and masks the
// inherited device with type "none" when the option disables it.
// Entry-time devices (per-user runtime dirs, home mounts) are added
// later and are not part of this set.
func CreationDevices(opts options.Options) map[string]incus.Device {
	devices := map[string]incus.Device{
		"root": RootDevice(),
	}
	if opts.GPU {
		devices["gpu"] = GPUDevice()
	} else {
		devices["gpu"] = incus.Device{"type": "none"}
	}
	if opts.HostRootfs {
		devices["hostfs"] = HostfsDevice()
	} else {
		devices["hostfs"] = incus.Device{"type": "none"}
	}
	return devices
}

// RootDevice is the container's root disk on the default storage pool.
func RootDevice() incus.Device {
	return incus.Device{
		"type": "disk",
		"path": "/",
		"pool": "default",
	}
}

// GPUDevice passes every host GPU through to the container.
func GPUDevice() incus.Device {
	return incus.Device{
		"type": "gpu",
	}
}

// HostfsDevice mounts the full host filesystem at HostPrefix.
func HostfsDevice() incus.Device {
	return incus.Device{
		"type":      "disk",
		"source":    "/",
		"path":      HostPrefix,
		"recursive": "true",
	}
}

// HomeDeviceName returns the device name carrying a user's home
// directory into the container.
func HomeDeviceName(username string) string {
	return "kapsule-home-" + sanitize(username)
}

// HomeDevice mounts the user's host home directory at the same path
// inside the container.
func HomeDevice(homeDir string) incus.Device {
	return incus.Device{
		"type":   "disk",
		"source": homeDir,
		"path":   homeDir,
		"shift":  "true",
	}
}

// MountDeviceName derives a deterministic device name from a host
// directory path, so planning the same mount twice names the same
// device. "/opt/data" becomes "kapsule-mount-opt-data".
func MountDeviceName(hostPath string) string {
	return "kapsule-mount-" + sanitize(hostPath)
}

// MountDevice mounts an extra host directory at the same path inside
// the container.
func MountDevice(hostPath string) incus.Device {
	return incus.Device{
		"type":   "disk",
		"source": hostPath,
		"path":   hostPath,
		"shift":  "true",
	}
}

// HostRunDeviceName names the per-user targeted runtime-dir device used
// in minimal mode.
func HostRunDeviceName(uid int) string {
	return fmt.Sprintf("kapsule-hostrun-%d", uid)
}

// X11DeviceName names the targeted X11 socket-dir device used in
// minimal mode. There is one X11 socket directory per host, so the name
// is fixed.
const X11DeviceName = "kapsule-x11"

// sanitize reduces an arbitrary path or name to the character set Incus
// accepts for device names. Runs of disallowed characters collapse to a
// single dash, so "/opt/data" and "opt/data/" map to the same name.
func sanitize(s string) string {
	var b strings.Builder
	dash := true // swallow leading separators
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
