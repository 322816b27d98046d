// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"testing"

	"github.com/kapsule-project/kapsule/options"
)

var testIdentity = Identity{
	UID:      1000,
	Username: "alice",
	HomeDir:  "/home/alice",
}

func fullHostState() HostState {
	return HostState{
		RuntimeDir:     "/run/user/1000",
		WaylandSocket:  "/run/user/1000/wayland-0",
		PipewireSocket: "/run/user/1000/pipewire-0",
		PulseSocket:    "/run/user/1000/pulse/native",
		BusSocket:      "/run/user/1000/bus",
		Display:        ":0",
		X11Socket:      "/tmp/.X11-unix/X0",
		XauthFile:      "/run/user/1000/.Xauthority",
	}
}

func findItem(items []Item, target string) (Item, bool) {
	for _, item := range items {
		if item.Target == target {
			return item, true
		}
	}
	return Item{}, false
}

func TestEntryPlanHostRootfsIsEnvironmentOnly(t *testing.T) {
	entry := EntryPlan(testIdentity, options.Defaults(), fullHostState())

	if len(entry.Devices) != 0 {
		t.Errorf("devices = %v, want none with host rootfs mounted", entry.Devices)
	}
	if len(entry.Items) != 0 {
		t.Errorf("items = %v, want none with host rootfs mounted", entry.Items)
	}
	if got := entry.Env["WAYLAND_DISPLAY"]; got != HostPrefix+"/run/user/1000/wayland-0" {
		t.Errorf("WAYLAND_DISPLAY = %q", got)
	}
	if got := entry.Env["PULSE_SERVER"]; got != "unix:"+HostPrefix+"/run/user/1000/pulse/native" {
		t.Errorf("PULSE_SERVER = %q", got)
	}
	if got := entry.Env["DBUS_SESSION_BUS_ADDRESS"]; got != "unix:path="+HostPrefix+"/run/user/1000/bus" {
		t.Errorf("DBUS_SESSION_BUS_ADDRESS = %q", got)
	}
	if got := entry.Env["XAUTHORITY"]; got != HostPrefix+"/run/user/1000/.Xauthority" {
		t.Errorf("XAUTHORITY = %q", got)
	}
}

func TestEntryPlanSessionModeSkipsBus(t *testing.T) {
	opts := options.Defaults()
	opts.SessionMode = true

	entry := EntryPlan(testIdentity, opts, fullHostState())
	if _, ok := entry.Env["DBUS_SESSION_BUS_ADDRESS"]; ok {
		t.Error("session mode must not point the container at the host bus")
	}

	// Same in minimal mode: no bind item for the bus socket.
	opts.HostRootfs = false
	entry = EntryPlan(testIdentity, opts, fullHostState())
	if _, ok := findItem(entry.Items, "/run/user/1000/bus"); ok {
		t.Error("session mode must not bind the host bus socket")
	}
}

func TestEntryPlanMinimalMode(t *testing.T) {
	opts := options.Defaults()
	opts.HostRootfs = false

	entry := EntryPlan(testIdentity, opts, fullHostState())

	hostrun, ok := entry.Devices["kapsule-hostrun-1000"]
	if !ok {
		t.Fatalf("devices = %v, want kapsule-hostrun-1000", entry.Devices)
	}
	if hostrun["source"] != "/run/user/1000" || hostrun["path"] != "/.kapsule/host/run/user/1000" {
		t.Errorf("hostrun device = %v", hostrun)
	}
	x11, ok := entry.Devices[X11DeviceName]
	if !ok {
		t.Fatal("no X11 device despite a live X socket")
	}
	if x11["source"] != "/tmp/.X11-unix" {
		t.Errorf("x11 device = %v", x11)
	}

	wayland, ok := findItem(entry.Items, "/run/user/1000/wayland-0")
	if !ok {
		t.Fatal("no wayland bind item")
	}
	if wayland.Kind != ItemBindMount || wayland.Source != "/.kapsule/host/run/user/1000/wayland-0" {
		t.Errorf("wayland item = %+v", wayland)
	}

	// pulse/native needs its parent directory created first.
	if _, ok := findItem(entry.Items, "/run/user/1000/pulse"); !ok {
		t.Error("no pulse directory item")
	}
	pulse, ok := findItem(entry.Items, "/run/user/1000/pulse/native")
	if !ok {
		t.Fatal("no pulse bind item")
	}
	if pulse.Source != "/.kapsule/host/run/user/1000/pulse/native" {
		t.Errorf("pulse item = %+v", pulse)
	}

	// Default mode gets the host bus at its conventional path.
	if _, ok := findItem(entry.Items, "/run/user/1000/bus"); !ok {
		t.Error("no bus bind item in default mode")
	}

	xsocket, ok := findItem(entry.Items, "/tmp/.X11-unix/X0")
	if !ok {
		t.Fatal("no X11 socket bind item")
	}
	if xsocket.Source != "/.kapsule/host/tmp/.X11-unix/X0" {
		t.Errorf("x11 item = %+v", xsocket)
	}
	if entry.Env["DISPLAY"] != ":0" {
		t.Errorf("DISPLAY = %q", entry.Env["DISPLAY"])
	}
	if entry.Env["XAUTHORITY"] != "/run/user/1000/.Xauthority" {
		t.Errorf("XAUTHORITY = %q", entry.Env["XAUTHORITY"])
	}
}

func TestEntryPlanMinimalModeAbsentResources(t *testing.T) {
	opts := options.Defaults()
	opts.HostRootfs = false

	entry := EntryPlan(testIdentity, opts, HostState{RuntimeDir: "/run/user/1000"})

	if _, ok := entry.Devices[X11DeviceName]; ok {
		t.Error("X11 device planned without an X socket")
	}
	// Only the runtime directory item remains.
	if len(entry.Items) != 1 || entry.Items[0].Kind != ItemDirectory {
		t.Errorf("items = %+v, want runtime dir only", entry.Items)
	}
	if len(entry.Env) != 0 {
		t.Errorf("env = %v, want empty", entry.Env)
	}
}

func TestEntryPlanXauthUnderMountedHome(t *testing.T) {
	opts := options.Defaults()
	opts.HostRootfs = false

	host := fullHostState()
	host.XauthFile = "/home/alice/.Xauthority"

	entry := EntryPlan(testIdentity, opts, host)
	if entry.Env["XAUTHORITY"] != "/home/alice/.Xauthority" {
		t.Errorf("XAUTHORITY = %q, want the home-mounted path", entry.Env["XAUTHORITY"])
	}
	if _, ok := findItem(entry.Items, "/home/alice/.Xauthority"); ok {
		t.Error("xauth under the mounted home must not get a bind item")
	}

	// Without the home mount the cookie is unreachable; leave
	// XAUTHORITY unset rather than pointing at a missing file.
	opts.MountHome = false
	entry = EntryPlan(testIdentity, opts, host)
	if _, ok := entry.Env["XAUTHORITY"]; ok {
		t.Error("XAUTHORITY set despite unreachable cookie file")
	}
}
