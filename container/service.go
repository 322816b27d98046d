// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package container orchestrates the lifecycle of kapsule developer
// containers: creation, deletion, start/stop, first-entry user setup,
// and the per-session wiring done each time a user enters. Long
// operations run through the operation engine; the D-Bus façade only
// translates calls and events.
package container

import (
	"context"
	"log/slog"
	"os"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/lib/config"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/plan"
)

// Backend is the slice of the Incus API the service drives. The real
// implementation is *incus.Client.
type Backend interface {
	ListInstances(ctx context.Context) ([]incus.Instance, error)
	GetInstance(ctx context.Context, name string) (*incus.Instance, error)
	InstanceExists(ctx context.Context, name string) (bool, error)
	GetInstanceState(ctx context.Context, name string) (*incus.InstanceState, error)
	CreateInstance(ctx context.Context, request incus.InstancesPost) error
	DeleteInstance(ctx context.Context, name string) error
	StartInstance(ctx context.Context, name string) error
	StopInstance(ctx context.Context, name string, force bool) error
	AddDevice(ctx context.Context, name, deviceName string, device incus.Device) error
	PatchConfig(ctx context.Context, name string, config map[string]string) error
	CreateFile(ctx context.Context, instance, path string, content []byte, uid, gid int, mode string) error
	MakeDirectory(ctx context.Context, instance, path string, uid, gid int, mode string) error
	CreateSymlink(ctx context.Context, instance, path, target string, uid, gid int) error
}

// Runner executes host commands. The service shells out for the few
// things the REST API cannot do: running commands inside containers
// and entering their mount namespaces.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Service implements the container operations behind the D-Bus façade.
type Service struct {
	Backend Backend
	Engine  *operation.Engine
	Config  config.Config
	Log     *slog.Logger
	Prober  *plan.Prober
	Run     Runner

	// NvidiaHookPath is the installed location of the NVIDIA mount
	// hook; empty when not installed. Stat is overridable for tests.
	NvidiaHookPath string
	Stat           func(string) (os.FileInfo, error)

	mounts mountCache
}

func (s *Service) stat(path string) (os.FileInfo, error) {
	if s.Stat != nil {
		return s.Stat(path)
	}
	return os.Stat(path)
}

// execIn runs a command inside a container through the incus CLI. The
// REST exec endpoint needs a websocket session for output; shelling out
// keeps the transport layer simple and matches what an operator would
// type.
func (s *Service) execIn(ctx context.Context, instance string, command ...string) error {
	args := append([]string{"exec", instance, "--"}, command...)
	return s.Run.Run(ctx, "incus", args...)
}
