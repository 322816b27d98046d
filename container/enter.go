// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kapsule-project/kapsule/options"
	"github.com/kapsule-project/kapsule/plan"
)

// EnterRequest asks the daemon to prepare a container for an
// interactive entry by one host user.
type EnterRequest struct {
	// Container is the target name; empty means the configured
	// default.
	Container string
	Identity  plan.Identity
	// Env is the caller's session environment; the planner reads the
	// display-related variables and the whitelist forwards the rest.
	Env map[string]string
	// Command runs instead of a login shell when non-empty.
	Command []string
}

// EnterResult is everything the client needs to exec into the
// container itself. The daemon never execs the shell: the client owns
// the terminal.
type EnterResult struct {
	// Created is true when the default container was built on demand.
	Created   bool
	Container string
	// Argv is the full host command for the interactive session.
	Argv []string
	// Warnings describe degraded functionality (missing sockets,
	// skipped mounts); the entry still proceeds.
	Warnings []string
}

// PrepareEnter brings a container to an enterable state: created if it
// is the missing default, running, the user set up, and the session's
// desktop sockets wired in. It is synchronous; creation of the default
// container is the only long step and reports through the operation it
// spawns.
func (s *Service) PrepareEnter(ctx context.Context, req EnterRequest) (EnterResult, error) {
	result := EnterResult{Container: req.Container}
	if result.Container == "" {
		result.Container = s.Config.DefaultContainer
	}
	name := result.Container

	exists, err := s.Backend.InstanceExists(ctx, name)
	if err != nil {
		return result, err
	}
	if !exists {
		if req.Container != "" && req.Container != s.Config.DefaultContainer {
			return result, fmt.Errorf("container %q does not exist", name)
		}
		if err := s.createDefault(ctx, name); err != nil {
			return result, err
		}
		result.Created = true
	}

	instance, err := s.Backend.GetInstance(ctx, name)
	if err != nil {
		return result, err
	}
	opts, err := optionsFromInstance(instance)
	if err != nil {
		return result, err
	}

	if !instance.IsRunning() {
		s.Log.Info("starting container for entry", "container", name)
		if err := s.Backend.StartInstance(ctx, name); err != nil {
			return result, fmt.Errorf("starting container %q: %w", name, err)
		}
	}

	if !userMapped(instance, req.Identity.UID) {
		warnings, err := s.setupUser(ctx, name, req.Identity, opts)
		if err != nil {
			return result, err
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	entryEnv, warnings, err := s.wireSession(ctx, name, req, opts)
	if err != nil {
		return result, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	result.Argv = enterArgv(name, req, entryEnv)
	return result, nil
}

// createDefault builds the default container with default options and
// waits for the operation to finish.
func (s *Service) createDefault(ctx context.Context, name string) error {
	s.Log.Info("default container missing, creating", "container", name)
	op, err := s.Create(name, s.Config.DefaultImage, options.Defaults())
	if err != nil {
		return err
	}
	select {
	case <-op.Done():
	case <-ctx.Done():
		op.Cancel()
		<-op.Done()
	}
	if err := op.Err(); err != nil {
		return fmt.Errorf("creating default container: %w", err)
	}
	return nil
}

// wireSession probes the host, plans the session wiring, and applies
// it. Results are cached per container boot and display environment:
// repeat entries from the same session skip the probing and mounting
// entirely.
func (s *Service) wireSession(ctx context.Context, name string, req EnterRequest, opts options.Options) (map[string]string, []string, error) {
	state, err := s.Backend.GetInstanceState(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	key := cacheKey(name, req.Identity.UID)
	print := envFingerprint(req.Env)
	if env, ok := s.mounts.lookup(key, state.StartedAt, print); ok {
		return env, nil, nil
	}

	host, warnings := s.Prober.Probe(ctx, req.Identity.UID, req.Env)
	entry := plan.EntryPlan(req.Identity, opts, host)

	names := make([]string, 0, len(entry.Devices))
	for deviceName := range entry.Devices {
		names = append(names, deviceName)
	}
	sort.Strings(names)
	for _, deviceName := range names {
		if err := s.Backend.AddDevice(ctx, name, deviceName, entry.Devices[deviceName]); err != nil {
			return nil, warnings, fmt.Errorf("adding device %s: %w", deviceName, err)
		}
	}

	applied := true
	if len(entry.Items) > 0 {
		if state.Pid == 0 {
			applied = false
			warnings = append(warnings,
				fmt.Sprintf("session mounts not applied: container %q has no init pid", name))
		} else {
			script := mountScript(entry.Items, req.Identity.UID)
			out, err := s.Run.Output(ctx, "nsenter",
				"-t", strconv.FormatInt(state.Pid, 10), "-m", "--", "sh", "-c", script)
			if err != nil {
				// Degraded session, not a failed entry: the shell still
				// works without the desktop sockets.
				applied = false
				warnings = append(warnings,
					fmt.Sprintf("session mounts not applied: %v", err))
			} else {
				warnings = append(warnings, mountSkips(out)...)
			}
		}
	}

	if applied {
		s.mounts.store(key, state.StartedAt, print, entry.Env)
	}
	s.Log.Info("session wired",
		"container", name, "uid", req.Identity.UID,
		"devices", len(entry.Devices), "items", len(entry.Items),
		"warnings", len(warnings))
	return entry.Env, warnings, nil
}

// mountScript renders entry items as one shell batch, executed inside
// the container's mount namespace. Items are independent: a missing
// source or a failed mount prints a "skipped" line and the batch moves
// on, so one dead socket never blocks the entry. Each step is
// idempotent and a stale symlink at a bind target is replaced.
func mountScript(items []plan.Item, uid int) string {
	var b strings.Builder
	for _, item := range items {
		switch item.Kind {
		case plan.ItemDirectory:
			target := shellQuote(item.Target)
			fmt.Fprintf(&b, "install -d -m 0700 -o %d -g %d %s || echo skipped %s\n",
				uid, uid, target, target)
		case plan.ItemBindMount:
			source := shellQuote(item.Source)
			target := shellQuote(item.Target)
			fmt.Fprintf(&b, "if [ -e %s ]; then\n", source)
			fmt.Fprintf(&b, "  [ -L %s ] && rm -f %s\n", target, target)
			fmt.Fprintf(&b, "  touch %s 2>/dev/null\n", target)
			fmt.Fprintf(&b, "  mountpoint -q %s || mount --bind %s %s || echo skipped %s\n",
				target, source, target, target)
			fmt.Fprintf(&b, "else\n  echo skipped %s\nfi\n", target)
		}
	}
	b.WriteString("exit 0\n")
	return b.String()
}

// mountSkips turns the batch's "skipped <target>" lines into warnings.
func mountSkips(output string) []string {
	var skips []string
	for _, line := range strings.Split(output, "\n") {
		if target, found := strings.CutPrefix(strings.TrimSpace(line), "skipped "); found {
			skips = append(skips, "session mount skipped: "+target)
		}
	}
	return skips
}

// forwarded variables cross from the caller's session into the
// container shell. Everything else is the container's own business;
// identity and path variables especially must not leak through.
var forwardEnv = []string{"TERM", "COLORTERM", "LANG", "EDITOR"}

func enterArgv(name string, req EnterRequest, entryEnv map[string]string) []string {
	env := map[string]string{
		// The exec'd su must resolve from the container, not inherit
		// the daemon's host PATH.
		"PATH": "/usr/bin:/bin",
	}
	for _, key := range forwardEnv {
		if value, ok := req.Env[key]; ok {
			env[key] = value
		}
	}
	for key, value := range req.Env {
		if strings.HasPrefix(key, "LC_") {
			env[key] = value
		}
	}
	for key, value := range entryEnv {
		env[key] = value
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	argv := []string{"incus", "exec", name}
	for _, key := range keys {
		argv = append(argv, "--env", key+"="+env[key])
	}
	argv = append(argv, "--", "su", "-l", req.Identity.Username)
	if len(req.Command) > 0 {
		argv = append(argv, "-c", shellQuoteAll(req.Command))
	}
	return argv
}

// mountCache remembers which (container, user) sessions are already
// wired. Entries are valid for one container boot and one display
// environment.
type mountCache struct {
	mu      sync.Mutex
	entries map[string]mountEntry
}

type mountEntry struct {
	startedAt   time.Time
	fingerprint string
	env         map[string]string
}

func cacheKey(container string, uid int) string {
	return fmt.Sprintf("%s/%d", container, uid)
}

// envFingerprint captures the display-related variables the plan
// depends on. A changed fingerprint (new Wayland socket name, new X
// display) forces re-wiring.
func envFingerprint(env map[string]string) string {
	return strings.Join([]string{env["WAYLAND_DISPLAY"], env["DISPLAY"], env["XAUTHORITY"]}, "|")
}

func (c *mountCache) lookup(key string, startedAt time.Time, fingerprint string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !entry.startedAt.Equal(startedAt) || entry.fingerprint != fingerprint {
		return nil, false
	}
	return entry.env, true
}

func (c *mountCache) store(key string, startedAt time.Time, fingerprint string, env map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]mountEntry{}
	}
	c.entries[key] = mountEntry{startedAt: startedAt, fingerprint: fingerprint, env: env}
}

// forget drops every cached session of one container. Called when the
// container stops or is deleted; mounts do not survive either.
func (c *mountCache) forget(container string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, container+"/") {
			delete(c.entries, key)
		}
	}
}
