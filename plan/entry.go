// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/options"
)

// Identity is the host user entering a container.
type Identity struct {
	UID      int
	Username string
	HomeDir  string
}

// RuntimeDir returns the user's XDG runtime directory, which is the
// same path on the host and inside the container.
func (id Identity) RuntimeDir() string {
	return fmt.Sprintf("/run/user/%d", id.UID)
}

// ItemKind says how an entry item is realized inside the container's
// mount namespace.
type ItemKind int

const (
	// ItemDirectory creates a directory owned by the entering user.
	ItemDirectory ItemKind = iota
	// ItemBindMount bind-mounts Source onto Target. Source is a path
	// already visible inside the container.
	ItemBindMount
)

func (k ItemKind) String() string {
	switch k {
	case ItemDirectory:
		return "directory"
	case ItemBindMount:
		return "bind-mount"
	}
	return fmt.Sprintf("ItemKind(%d)", int(k))
}

// Item is one step of entry-time filesystem wiring, executed inside the
// container before the user's shell starts.
type Item struct {
	Kind   ItemKind
	Source string // bind source; unused for directories
	Target string
}

// Entry is the per-session wiring for one user entering one container.
type Entry struct {
	// Devices are targeted Incus devices to ensure on the instance.
	// Empty when the full host filesystem is mounted.
	Devices map[string]incus.Device
	// Items are filesystem steps executed inside the container.
	Items []Item
	// Env overrides for the user's shell environment.
	Env map[string]string
}

// EntryPlan decides how the discovered host resources reach the
// container. With host_rootfs every socket is already visible under
// HostPrefix, so the plan is environment-only. Without it, targeted
// devices expose /run/user/<uid> and the X11 socket directory at the
// same paths under HostPrefix, and bind items project the individual
// sockets to their conventional paths.
//
// The session bus is wired only in Default integration mode: in Session
// and Multiplexer modes the container runs its own bus.
func EntryPlan(id Identity, opts options.Options, host HostState) Entry {
	if opts.HostRootfs {
		return hostRootfsPlan(opts, host)
	}
	return minimalPlan(id, opts, host)
}

func hostRootfsPlan(opts options.Options, host HostState) Entry {
	env := map[string]string{}

	// Wayland and PipeWire clients accept absolute socket paths, and
	// PulseAudio takes an explicit server address, so everything is
	// reachable through the host mount without touching the mount
	// namespace.
	if host.WaylandSocket != "" {
		env["WAYLAND_DISPLAY"] = HostPrefix + host.WaylandSocket
	}
	if host.PipewireSocket != "" {
		env["PIPEWIRE_REMOTE"] = HostPrefix + host.PipewireSocket
	}
	if host.PulseSocket != "" {
		env["PULSE_SERVER"] = "unix:" + HostPrefix + host.PulseSocket
	}
	if host.X11Socket != "" {
		// The container shares the host network namespace, so X
		// clients reach the server through the abstract socket; only
		// the cookie file needs redirecting.
		env["DISPLAY"] = host.Display
		if host.XauthFile != "" {
			env["XAUTHORITY"] = HostPrefix + host.XauthFile
		}
	}
	if opts.IntegrationMode() == options.ModeDefault && host.BusSocket != "" {
		env["DBUS_SESSION_BUS_ADDRESS"] = "unix:path=" + HostPrefix + host.BusSocket
	}

	return Entry{Env: env}
}

func minimalPlan(id Identity, opts options.Options, host HostState) Entry {
	runtimeDir := id.RuntimeDir()
	hostRunMount := HostPrefix + host.RuntimeDir

	devices := map[string]incus.Device{
		HostRunDeviceName(id.UID): {
			"type":   "disk",
			"source": host.RuntimeDir,
			"path":   hostRunMount,
		},
	}
	env := map[string]string{}
	items := []Item{
		{Kind: ItemDirectory, Target: runtimeDir},
	}

	// hostRunPath maps a host socket to where the targeted device makes
	// it visible. Sockets outside the runtime dir are unreachable in
	// minimal mode.
	hostRunPath := func(hostPath string) string {
		rel, found := strings.CutPrefix(hostPath, host.RuntimeDir+"/")
		if !found {
			return ""
		}
		return hostRunMount + "/" + rel
	}
	bindToRuntime := func(hostPath string) string {
		source := hostRunPath(hostPath)
		if source == "" {
			return ""
		}
		target := filepath.Join(runtimeDir, strings.TrimPrefix(hostPath, host.RuntimeDir))
		items = append(items, Item{Kind: ItemBindMount, Source: source, Target: target})
		return target
	}

	if host.WaylandSocket != "" {
		if target := bindToRuntime(host.WaylandSocket); target != "" {
			env["WAYLAND_DISPLAY"] = filepath.Base(target)
		}
	}
	if host.PipewireSocket != "" {
		bindToRuntime(host.PipewireSocket)
	}
	if host.PulseSocket != "" {
		if source := hostRunPath(host.PulseSocket); source != "" {
			// pulse/native must live in a real pulse directory: the
			// client refuses sockets whose parent it cannot stat.
			items = append(items,
				Item{Kind: ItemDirectory, Target: filepath.Join(runtimeDir, "pulse")},
				Item{Kind: ItemBindMount, Source: source, Target: filepath.Join(runtimeDir, "pulse", "native")},
			)
		}
	}
	if opts.IntegrationMode() == options.ModeDefault && host.BusSocket != "" {
		bindToRuntime(host.BusSocket)
	}

	if host.X11Socket != "" {
		devices[X11DeviceName] = incus.Device{
			"type":   "disk",
			"source": "/tmp/.X11-unix",
			"path":   x11MountPath,
		}
		socketName := filepath.Base(host.X11Socket)
		items = append(items, Item{
			Kind:   ItemBindMount,
			Source: x11MountPath + "/" + socketName,
			Target: "/tmp/.X11-unix/" + socketName,
		})
		env["DISPLAY"] = host.Display

		if host.XauthFile != "" {
			switch {
			case strings.HasPrefix(host.XauthFile, host.RuntimeDir+"/"):
				if target := bindToRuntime(host.XauthFile); target != "" {
					env["XAUTHORITY"] = target
				}
			case opts.MountHome && id.HomeDir != "" && strings.HasPrefix(host.XauthFile, id.HomeDir+"/"):
				// Already visible through the home mount.
				env["XAUTHORITY"] = host.XauthFile
			}
		}
	}

	return Entry{Devices: devices, Items: items, Env: env}
}
