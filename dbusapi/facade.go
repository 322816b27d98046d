// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package dbusapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/kapsule-project/kapsule/container"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/options"
)

// Containers is the container-service surface the façade drives. The
// production implementation is *container.Service.
type Containers interface {
	Create(name, image string, opts options.Options) (*operation.Operation, error)
	Delete(name string, force bool) (*operation.Operation, error)
	Start(name string) (*operation.Operation, error)
	Stop(name string, force bool) (*operation.Operation, error)
	List(ctx context.Context) ([]container.Info, error)
	PrepareEnter(ctx context.Context, req container.EnterRequest) (container.EnterResult, error)
}

// Facade owns the bus connection and the exported objects.
type Facade struct {
	Conn        *dbus.Conn
	Containers  Containers
	Engine      *operation.Engine
	Log         *slog.Logger
	Authorizer  Authorizer
	Credentials CredentialFunc
	Version     string
}

// Bind exports the manager object and claims the well-known name.
// Failure here is fatal to the daemon: a kapsuled nobody can reach is
// useless.
func (f *Facade) Bind() error {
	mgr := &manager{facade: f}
	if err := f.Conn.Export(mgr, ManagerPath, ManagerInterface); err != nil {
		return fmt.Errorf("exporting manager: %w", err)
	}

	_, err := prop.Export(f.Conn, ManagerPath, prop.Map{
		ManagerInterface: {
			"Version": {Value: f.Version, Emit: prop.EmitConst},
		},
	})
	if err != nil {
		return fmt.Errorf("exporting manager properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(ManagerPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			managerIntrospection,
		},
	}
	err = f.Conn.Export(introspect.NewIntrospectable(node), ManagerPath,
		"org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("exporting introspection: %w", err)
	}

	// Every accepted submission is published, including operations the
	// daemon starts on its own behalf (the auto-created default
	// container); the hook is also what drains each event stream.
	f.Engine.OnPublish(func(op *operation.Operation) { f.publish(op) })
	f.Engine.OnUnpublish(f.unpublish)

	reply, err := f.Conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken (is another kapsuled running?)", BusName)
	}
	f.Log.Info("bound to bus", "name", BusName)
	return nil
}

// publish exports an operation object and starts mirroring its events
// as signals. Runs as the engine's publish hook for every accepted
// submission.
func (f *Facade) publish(op *operation.Operation) dbus.ObjectPath {
	path := operationPath(op.ID())
	object := &operationObject{facade: f, op: op}
	if err := f.Conn.Export(object, path, OperationInterface); err != nil {
		f.Log.Error("exporting operation object", "path", path, "error", err)
		return path
	}

	properties, err := prop.Export(f.Conn, path, prop.Map{
		OperationInterface: {
			"Id":     {Value: op.ID(), Emit: prop.EmitConst},
			"Kind":   {Value: string(op.Kind()), Emit: prop.EmitConst},
			"Target": {Value: op.Target(), Emit: prop.EmitConst},
			"Status": {Value: string(op.Status()), Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		f.Log.Error("exporting operation properties", "path", path, "error", err)
	}

	go f.pump(path, op, properties)
	return path
}

// pump forwards the event stream, updating the Status property as the
// operation moves through its lifecycle.
func (f *Facade) pump(path dbus.ObjectPath, op *operation.Operation, properties *prop.Properties) {
	sawFirst := false
	for event := range op.Events() {
		if !sawFirst {
			sawFirst = true
			if properties != nil {
				properties.SetMust(OperationInterface, "Status", string(operation.StatusRunning))
			}
		}
		name, body := signalFor(event)
		if name == "" {
			continue
		}
		if err := f.Conn.Emit(path, OperationInterface+"."+name, body...); err != nil {
			f.Log.Warn("emitting operation signal", "path", path, "signal", name, "error", err)
		}
	}
	if properties != nil {
		properties.SetMust(OperationInterface, "Status", string(op.Status()))
	}
}

// unpublish drops an operation object after its retention grace period.
func (f *Facade) unpublish(op *operation.Operation) {
	path := operationPath(op.ID())
	for _, iface := range []string{
		OperationInterface,
		"org.freedesktop.DBus.Properties",
		"org.freedesktop.DBus.Introspectable",
	} {
		if err := f.Conn.Export(nil, path, iface); err != nil {
			f.Log.Warn("unexporting operation object", "path", path, "error", err)
		}
	}
	f.Log.Debug("operation unpublished", "operation", op.ID())
}

// operationObject is exported per running operation.
type operationObject struct {
	facade *Facade
	op     *operation.Operation
}

// Cancel requests cooperative cancellation of the operation.
func (o *operationObject) Cancel(sender dbus.Sender) *dbus.Error {
	mgr := &manager{facade: o.facade}
	if err := mgr.authorize(sender, ActionManage); err != nil {
		return err
	}
	o.op.Cancel()
	return nil
}

// managerIntrospection describes the manager interface for clients
// that discover the API at runtime.
var managerIntrospection = introspect.Interface{
	Name: ManagerInterface,
	Methods: []introspect.Method{
		{Name: "GetCreateSchema", Args: []introspect.Arg{
			{Name: "schema", Type: "s", Direction: "out"},
		}},
		{Name: "CreateContainer", Args: []introspect.Arg{
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "image", Type: "s", Direction: "in"},
			{Name: "options", Type: "a{sv}", Direction: "in"},
			{Name: "operation", Type: "o", Direction: "out"},
		}},
		{Name: "DeleteContainer", Args: []introspect.Arg{
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "force", Type: "b", Direction: "in"},
			{Name: "operation", Type: "o", Direction: "out"},
		}},
		{Name: "StartContainer", Args: []introspect.Arg{
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "operation", Type: "o", Direction: "out"},
		}},
		{Name: "StopContainer", Args: []introspect.Arg{
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "force", Type: "b", Direction: "in"},
			{Name: "operation", Type: "o", Direction: "out"},
		}},
		{Name: "ListContainers", Args: []introspect.Arg{
			{Name: "containers", Type: "a(ssss)", Direction: "out"},
		}},
		{Name: "PrepareEnter", Args: []introspect.Arg{
			{Name: "name", Type: "s", Direction: "in"},
			{Name: "command", Type: "as", Direction: "in"},
			{Name: "environment", Type: "a{ss}", Direction: "in"},
			{Name: "created", Type: "b", Direction: "out"},
			{Name: "warnings", Type: "s", Direction: "out"},
			{Name: "argv", Type: "as", Direction: "out"},
		}},
	},
	Properties: []introspect.Property{
		{Name: "Version", Type: "s", Access: "read"},
	},
}
