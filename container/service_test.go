// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/lib/clock"
	"github.com/kapsule-project/kapsule/lib/config"
	"github.com/kapsule-project/kapsule/lib/testutil"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/options"
	"github.com/kapsule-project/kapsule/plan"
)

const waitFor = 5 * time.Second

// fakeBackend is an in-memory Backend recording file and device
// writes.
type fakeBackend struct {
	mu        sync.Mutex
	instances map[string]*incus.Instance
	states    map[string]*incus.InstanceState

	files    map[string]string // instance:path -> content
	dirs     []string          // instance:path
	symlinks map[string]string // instance:path -> target

	createErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		instances: map[string]*incus.Instance{},
		states:    map[string]*incus.InstanceState{},
		files:     map[string]string{},
		symlinks:  map[string]string{},
	}
}

func (f *fakeBackend) ListInstances(context.Context) ([]incus.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []incus.Instance
	for _, instance := range f.instances {
		out = append(out, *instance)
	}
	return out, nil
}

func (f *fakeBackend) GetInstance(_ context.Context, name string) (*incus.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[name]
	if !ok {
		return nil, &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	snapshot := *instance
	return &snapshot, nil
}

func (f *fakeBackend) InstanceExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[name]
	return ok, nil
}

func (f *fakeBackend) GetInstanceState(_ context.Context, name string) (*incus.InstanceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	if !ok {
		return nil, &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	snapshot := *state
	return &snapshot, nil
}

func (f *fakeBackend) CreateInstance(_ context.Context, request incus.InstancesPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.instances[request.Name]; exists {
		return &incus.Error{Kind: incus.KindConflict, Message: "exists"}
	}
	config := map[string]string{}
	for key, value := range request.Config {
		config[key] = value
	}
	f.instances[request.Name] = &incus.Instance{
		Name:      request.Name,
		Status:    "Stopped",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Config:    config,
		Devices:   request.Devices,
		Profiles:  request.Profiles,
	}
	f.states[request.Name] = &incus.InstanceState{Status: "Stopped"}
	return nil
}

func (f *fakeBackend) DeleteInstance(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[name]; !ok {
		return &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	delete(f.instances, name)
	delete(f.states, name)
	return nil
}

func (f *fakeBackend) StartInstance(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[name]
	if !ok {
		return &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	instance.Status = "Running"
	f.states[name] = &incus.InstanceState{
		Status:    "Running",
		Pid:       4242,
		StartedAt: time.Unix(1700000100, 0),
	}
	return nil
}

func (f *fakeBackend) StopInstance(_ context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[name]
	if !ok {
		return &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	instance.Status = "Stopped"
	f.states[name] = &incus.InstanceState{Status: "Stopped"}
	return nil
}

func (f *fakeBackend) AddDevice(_ context.Context, name, deviceName string, device incus.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[name]
	if !ok {
		return &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	if instance.Devices == nil {
		instance.Devices = map[string]incus.Device{}
	}
	instance.Devices[deviceName] = device
	return nil
}

func (f *fakeBackend) PatchConfig(_ context.Context, name string, config map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[name]
	if !ok {
		return &incus.Error{Kind: incus.KindNotFound, Message: "not found"}
	}
	for key, value := range config {
		instance.Config[key] = value
	}
	return nil
}

func (f *fakeBackend) CreateFile(_ context.Context, instance, path string, content []byte, uid, gid int, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[instance+":"+path] = string(content)
	return nil
}

func (f *fakeBackend) MakeDirectory(_ context.Context, instance, path string, uid, gid int, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, instance+":"+path)
	return nil
}

func (f *fakeBackend) CreateSymlink(_ context.Context, instance, path, target string, uid, gid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symlinks[instance+":"+path] = target
	return nil
}

// fakeRunner records host commands instead of running them.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]error  // substring -> error
	output   map[string]string // substring -> stdout
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	command := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, command)
	for substring, err := range r.fail {
		if strings.Contains(command, substring) {
			return err
		}
	}
	return nil
}

func (r *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	err := r.Run(ctx, name, args...)
	command := name + " " + strings.Join(args, " ")
	for substring, out := range r.output {
		if strings.Contains(command, substring) {
			return out, err
		}
	}
	return "", err
}

func (r *fakeRunner) ran(substring string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, command := range r.commands {
		if strings.Contains(command, substring) {
			return true
		}
	}
	return false
}

// hostPaths builds a Stat func over a fixed path set.
func hostPaths(paths ...string) func(string) (os.FileInfo, error) {
	set := map[string]bool{}
	for _, path := range paths {
		set[path] = true
	}
	return func(path string) (os.FileInfo, error) {
		if set[path] {
			return nil, nil
		}
		return nil, fs.ErrNotExist
	}
}

type testFixture struct {
	service *Service
	backend *fakeBackend
	runner  *fakeRunner
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, hostFiles ...string) *testFixture {
	t.Helper()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := newFakeBackend()
	runner := &fakeRunner{}
	stat := hostPaths(hostFiles...)
	return &testFixture{
		service: &Service{
			Backend: backend,
			Engine: operation.NewEngine(operation.EngineConfig{
				Clock: fakeClock,
				Log:   logger,
			}),
			Config: config.Defaults(),
			Log:    logger,
			Prober: &plan.Prober{Clock: fakeClock, Stat: stat},
			Run:    runner,
			Stat:   stat,
		},
		backend: backend,
		runner:  runner,
		clock:   fakeClock,
	}
}

// await drains the operation and fails the test if it did not succeed.
func await(t *testing.T, op *operation.Operation) {
	t.Helper()
	testutil.RequireClosed(t, op.Done(), waitFor, "operation %s", op.ID())
	if err := op.Err(); err != nil {
		t.Fatalf("operation %s/%s failed: %v", op.Kind(), op.Target(), err)
	}
}

// awaitFailure drains the operation and returns its error text.
func awaitFailure(t *testing.T, op *operation.Operation) string {
	t.Helper()
	testutil.RequireClosed(t, op.Done(), waitFor, "operation %s", op.ID())
	err := op.Err()
	if err == nil {
		t.Fatalf("operation %s/%s unexpectedly succeeded", op.Kind(), op.Target())
	}
	return err.Error()
}

func mustCreate(t *testing.T, fixture *testFixture, name string) {
	t.Helper()
	op, err := fixture.service.Create(name, "images:archlinux", options.Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	await(t, op)
}
