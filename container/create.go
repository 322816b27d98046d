// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/options"
	"github.com/kapsule-project/kapsule/plan"
	"github.com/kapsule-project/kapsule/profile"
)

// rawLXCBase mirrors the base profile's raw.lxc. Instance config keys
// replace profile keys wholesale, so any instance-level raw.lxc
// addition has to repeat the base lines.
const rawLXCBase = "lxc.net.0.type=none"

// Create submits a creation operation for a new container. opts must
// already be validated.
func (s *Service) Create(name, image string, opts options.Options) (*operation.Operation, error) {
	if name == "" {
		return nil, fmt.Errorf("container name is empty")
	}
	if image == "" {
		image = s.Config.DefaultImage
	}
	// Reject bad references before publishing an operation.
	source, err := ParseImageRef(image)
	if err != nil {
		return nil, err
	}

	return s.Engine.Submit(operation.KindCreate, name, func(ctx context.Context, r *operation.Reporter) error {
		return s.create(ctx, r, name, image, source, opts)
	})
}

func (s *Service) create(ctx context.Context, r *operation.Reporter, name, image string, source incus.InstanceSource, opts options.Options) error {
	exists, err := s.Backend.InstanceExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("container %q already exists", name)
	}

	instanceConfig, err := optionsToConfig(opts)
	if err != nil {
		return err
	}
	if opts.NvidiaDrivers {
		if s.NvidiaHookPath == "" {
			r.Warnf("nvidia driver injection requested but the mount hook is not installed")
		} else {
			instanceConfig["raw.lxc"] = rawLXCBase + "\nlxc.hook.mount=" + s.NvidiaHookPath
		}
	}

	r.Infof("creating container %s from %s", name, image)
	download := r.Progress(fmt.Sprintf("fetching image %s", image), 0)
	err = s.Backend.CreateInstance(ctx, incus.InstancesPost{
		Name:     name,
		Source:   source,
		Config:   instanceConfig,
		Devices:  plan.CreationDevices(opts),
		Profiles: []string{profile.BaseName},
		Type:     "container",
	})
	if err != nil {
		download.Fail(err.Error())
		return fmt.Errorf("creating container %q: %w", name, err)
	}
	download.Complete("image ready")

	if err := r.Checkpoint(); err != nil {
		return err
	}
	r.Infof("starting container")
	if err := s.Backend.StartInstance(ctx, name); err != nil {
		return fmt.Errorf("starting container %q: %w", name, err)
	}

	if err := s.postCreate(ctx, r.Nested(), name, opts); err != nil {
		return err
	}
	r.Infof("container %s ready", name)
	return nil
}

// postCreate applies the in-container fixups a stock image needs to
// behave as a developer container. Everything here goes through the
// Incus file API where possible; only capability restoration needs a
// command inside the container.
func (s *Service) postCreate(ctx context.Context, r *operation.Reporter, name string, opts options.Options) error {
	// Host networking means the wait-online unit can never succeed;
	// left alone it delays boot by its full timeout.
	err := s.Backend.CreateSymlink(ctx, name,
		"/etc/systemd/system/systemd-networkd-wait-online.service", "/dev/null", 0, 0)
	if err != nil {
		return fmt.Errorf("masking systemd-networkd-wait-online: %w", err)
	}
	r.Infof("masked systemd-networkd-wait-online")

	// Image tarballs lose file capabilities; without these, rootless
	// podman inside the container cannot map subordinate ids.
	for _, binary := range []string{"/usr/bin/newuidmap", "/usr/bin/newgidmap"} {
		if err := s.execIn(ctx, name, "setcap", "cap_setuid,cap_setgid+ep", binary); err != nil {
			r.Warnf("restoring capabilities on %s: %v", binary, err)
		}
	}

	switch opts.IntegrationMode() {
	case options.ModeDefault:
		// The container shares the host's session bus, so no user bus
		// runs inside it and rootless podman cannot use the systemd
		// cgroup manager.
		if err := s.writePodmanCgroupfsDropIn(ctx, name); err != nil {
			return err
		}
		r.Infof("configured rootless podman for cgroupfs")
	case options.ModeSession, options.ModeMux:
		if err := s.writeSessionBusDropIn(ctx, name); err != nil {
			return err
		}
		r.Infof("enabled per-user session bus")
		if opts.IntegrationMode() == options.ModeMux {
			if err := s.writeMuxService(ctx, name); err != nil {
				return err
			}
			r.Infof("installed d-bus multiplexer service")
		}
	}
	return nil
}

func (s *Service) writePodmanCgroupfsDropIn(ctx context.Context, name string) error {
	content := strings.Join([]string{
		"# Installed by kapsuled. The container has no per-user session",
		"# bus in default mode, so podman cannot delegate to systemd.",
		"[engine]",
		`cgroup_manager = "cgroupfs"`,
		"",
	}, "\n")
	if err := s.Backend.MakeDirectory(ctx, name, "/etc/containers/containers.conf.d", 0, 0, "0755"); err != nil {
		return fmt.Errorf("creating containers.conf.d: %w", err)
	}
	err := s.Backend.CreateFile(ctx, name,
		"/etc/containers/containers.conf.d/10-kapsule-cgroupfs.conf",
		[]byte(content), 0, 0, "0644")
	if err != nil {
		return fmt.Errorf("writing podman drop-in: %w", err)
	}
	return nil
}

func (s *Service) writeSessionBusDropIn(ctx context.Context, name string) error {
	content := strings.Join([]string{
		"# Installed by kapsuled: make sure every login gets a session bus.",
		"[Unit]",
		"Requires=dbus.socket",
		"After=dbus.socket",
		"",
	}, "\n")
	if err := s.Backend.MakeDirectory(ctx, name, "/etc/systemd/user/default.target.d", 0, 0, "0755"); err != nil {
		return fmt.Errorf("creating user target drop-in dir: %w", err)
	}
	err := s.Backend.CreateFile(ctx, name,
		"/etc/systemd/user/default.target.d/10-kapsule-dbus.conf",
		[]byte(content), 0, 0, "0644")
	if err != nil {
		return fmt.Errorf("writing session bus drop-in: %w", err)
	}
	return nil
}

func (s *Service) writeMuxService(ctx context.Context, name string) error {
	// The multiplexer binary lives on the host and is reached through
	// the host filesystem mount; validation guarantees host_rootfs.
	content := strings.Join([]string{
		"# Installed by kapsuled.",
		"[Unit]",
		"Description=Kapsule D-Bus multiplexer",
		"After=dbus.socket",
		"Requires=dbus.socket",
		"",
		"[Service]",
		"ExecStart=" + plan.HostPrefix + "/usr/lib/kapsule/kapsule-dbus-mux",
		"Restart=on-failure",
		"",
		"[Install]",
		"WantedBy=default.target",
		"",
	}, "\n")
	err := s.Backend.CreateFile(ctx, name,
		"/etc/systemd/user/kapsule-dbus-mux.service",
		[]byte(content), 0, 0, "0644")
	if err != nil {
		return fmt.Errorf("writing mux service: %w", err)
	}
	if err := s.execIn(ctx, name, "systemctl", "--global", "enable", "kapsule-dbus-mux.service"); err != nil {
		return fmt.Errorf("enabling mux service: %w", err)
	}
	return nil
}
