// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kapsule-project/kapsule/lib/clock"
)

// HostState describes the desktop resources discovered on the host for
// one user. Empty path fields mean the resource is absent (or the probe
// timed out, which the planner treats the same way).
type HostState struct {
	// RuntimeDir is the user's XDG runtime directory, /run/user/<uid>.
	RuntimeDir string

	WaylandSocket  string // absolute path, e.g. /run/user/1000/wayland-0
	PipewireSocket string
	PulseSocket    string // the pulse/native socket
	BusSocket      string // session bus socket; relevant in Default mode

	Display   string // X11 DISPLAY value, e.g. ":0"
	X11Socket string // /tmp/.X11-unix/X<n>
	XauthFile string // value of XAUTHORITY, if it exists
}

// Prober discovers HostState. Stat calls are bounded per check: a stat
// that hangs (stale NFS mount, wedged FUSE daemon) reports the resource
// absent instead of blocking the entry indefinitely.
type Prober struct {
	Clock   clock.Clock
	Timeout time.Duration                   // per check; 0 means 2s
	Stat    func(string) (os.FileInfo, error) // nil means os.Stat
}

const defaultProbeTimeout = 2 * time.Second

// Probe inspects the host for one user. env carries the caller's
// session environment (WAYLAND_DISPLAY, DISPLAY, XAUTHORITY); absent
// keys fall back to conventional values. The returned warnings name
// each resource that could not be probed in time.
func (p *Prober) Probe(ctx context.Context, uid int, env map[string]string) (HostState, []string) {
	state := HostState{
		RuntimeDir: fmt.Sprintf("/run/user/%d", uid),
	}
	var warnings []string

	exists := func(resource, path string) bool {
		ok, timedOut := p.statBounded(ctx, path)
		if timedOut {
			warnings = append(warnings, fmt.Sprintf("timed out probing %s at %s", resource, path))
		}
		return ok
	}

	wayland := env["WAYLAND_DISPLAY"]
	if wayland == "" {
		wayland = "wayland-0"
	}
	if !filepath.IsAbs(wayland) {
		wayland = filepath.Join(state.RuntimeDir, wayland)
	}
	if exists("wayland socket", wayland) {
		state.WaylandSocket = wayland
	}

	if pipewire := filepath.Join(state.RuntimeDir, "pipewire-0"); exists("pipewire socket", pipewire) {
		state.PipewireSocket = pipewire
	}
	if pulse := filepath.Join(state.RuntimeDir, "pulse", "native"); exists("pulseaudio socket", pulse) {
		state.PulseSocket = pulse
	}
	if bus := filepath.Join(state.RuntimeDir, "bus"); exists("session bus socket", bus) {
		state.BusSocket = bus
	}

	if display := env["DISPLAY"]; display != "" {
		if socket := x11SocketPath(display); socket != "" && exists("X11 socket", socket) {
			state.Display = display
			state.X11Socket = socket
			if xauth := env["XAUTHORITY"]; xauth != "" && exists("xauthority file", xauth) {
				state.XauthFile = xauth
			}
		}
	}

	return state, warnings
}

// statBounded reports whether path exists, giving up after the probe
// timeout. The stat goroutine is left to finish on its own if it is
// stuck; the result channel is buffered so it never leaks a send.
func (p *Prober) statBounded(ctx context.Context, path string) (ok, timedOut bool) {
	stat := p.Stat
	if stat == nil {
		stat = os.Stat
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	// Arm the deadline before the stat starts so a stat that completes
	// instantly can never observe an unarmed timer.
	expired := p.Clock.After(timeout)
	done := make(chan bool, 1)
	go func() {
		_, err := stat(path)
		done <- err == nil
	}()

	select {
	case ok = <-done:
		return ok, false
	case <-expired:
		return false, true
	case <-ctx.Done():
		return false, true
	}
}

// x11SocketPath maps a DISPLAY value to its unix socket. Remote
// displays (host:n) have no local socket and return "".
func x11SocketPath(display string) string {
	rest, found := strings.CutPrefix(display, ":")
	if !found {
		return ""
	}
	// Strip the screen suffix: ":0.1" uses the same socket as ":0".
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		rest = rest[:dot]
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if rest == "" {
		return ""
	}
	return "/tmp/.X11-unix/X" + rest
}
