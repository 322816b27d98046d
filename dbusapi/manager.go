// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"regexp"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/kapsule-project/kapsule/container"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/options"
	"github.com/kapsule-project/kapsule/plan"
)

// D-Bus error names returned by the manager. Clients match on these.
const (
	errInvalidName    = "org.kapsule.Kapsule.Error.InvalidName"
	errInvalidOptions = "org.kapsule.Kapsule.Error.InvalidOptions"
	errTargetBusy     = "org.kapsule.Kapsule.Error.TargetBusy"
	errNotAuthorized  = "org.kapsule.Kapsule.Error.NotAuthorized"
	errEnterFailed    = "org.kapsule.Kapsule.Error.EnterFailed"
	errBackend        = "org.kapsule.Kapsule.Error.Backend"
)

// containerNameRx matches the names Incus accepts: a letter first,
// then letters, digits, and interior dashes, at most 63 characters.
var containerNameRx = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,62}$`)

// manager is the object exported at ManagerPath. Its exported methods
// form the org.kapsule.Kapsule.Manager interface.
type manager struct {
	facade *Facade
}

// GetCreateSchema returns the creation option schema as JSON. Clients
// derive their flags and forms from it instead of hard-coding options.
func (m *manager) GetCreateSchema() (string, *dbus.Error) {
	return options.SchemaJSON(), nil
}

// CreateContainer validates and submits a creation operation,
// returning its object path.
func (m *manager) CreateContainer(sender dbus.Sender, name, image string, rawOptions map[string]dbus.Variant) (dbus.ObjectPath, *dbus.Error) {
	if err := m.authorize(sender, ActionManage); err != nil {
		return "", err
	}
	if !containerNameRx.MatchString(name) {
		return "", dbus.NewError(errInvalidName, []any{fmt.Sprintf("invalid container name %q", name)})
	}
	opts, err := options.Validate(variantMap(rawOptions))
	if err != nil {
		return "", dbus.NewError(errInvalidOptions, []any{err.Error()})
	}
	return m.submitted(m.facade.Containers.Create(name, image, opts))
}

// DeleteContainer submits a deletion operation. force stops a running
// container first.
func (m *manager) DeleteContainer(sender dbus.Sender, name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	if err := m.authorize(sender, ActionManage); err != nil {
		return "", err
	}
	return m.submitted(m.facade.Containers.Delete(name, force))
}

// StartContainer submits a start operation.
func (m *manager) StartContainer(sender dbus.Sender, name string) (dbus.ObjectPath, *dbus.Error) {
	if err := m.authorize(sender, ActionManage); err != nil {
		return "", err
	}
	return m.submitted(m.facade.Containers.Start(name))
}

// StopContainer submits a stop operation.
func (m *manager) StopContainer(sender dbus.Sender, name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	if err := m.authorize(sender, ActionManage); err != nil {
		return "", err
	}
	return m.submitted(m.facade.Containers.Stop(name, force))
}

// containerRow is one ListContainers element; godbus marshals it as
// (ssss).
type containerRow struct {
	Name    string
	Status  string
	Image   string
	Created string
}

// ListContainers returns every managed container as (name, status,
// image, created) rows. Created is RFC 3339.
func (m *manager) ListContainers() ([]containerRow, *dbus.Error) {
	infos, err := m.facade.Containers.List(context.Background())
	if err != nil {
		return nil, dbus.NewError(errBackend, []any{err.Error()})
	}
	rows := make([]containerRow, len(infos))
	for i, info := range infos {
		rows[i] = containerRow{Name: info.Name, Status: info.Status, Image: info.Image, Created: info.Created}
	}
	return rows, nil
}

// PrepareEnter readies a container for an interactive entry by the
// calling user and returns (created, warning text, exec argv). The
// client execs the argv itself so the terminal stays its own.
func (m *manager) PrepareEnter(sender dbus.Sender, name string, command []string, env map[string]string) (bool, string, []string, *dbus.Error) {
	caller, dbusErr := m.caller(sender, ActionEnter)
	if dbusErr != nil {
		return false, "", nil, dbusErr
	}
	identity, err := identityForUID(caller.UID)
	if err != nil {
		return false, "", nil, dbus.NewError(errEnterFailed, []any{err.Error()})
	}

	result, err := m.facade.Containers.PrepareEnter(context.Background(), container.EnterRequest{
		Container: name,
		Identity:  identity,
		Env:       env,
		Command:   command,
	})
	if err != nil {
		return false, "", nil, dbus.NewError(errEnterFailed, []any{err.Error()})
	}
	warning := ""
	for i, text := range result.Warnings {
		if i > 0 {
			warning += "\n"
		}
		warning += text
	}
	return result.Created, warning, result.Argv, nil
}

func (m *manager) authorize(sender dbus.Sender, action Action) *dbus.Error {
	_, err := m.caller(sender, action)
	return err
}

// caller resolves and authorizes the peer behind a call.
func (m *manager) caller(sender dbus.Sender, action Action) (Caller, *dbus.Error) {
	uid, err := m.facade.Credentials(sender)
	if err != nil {
		m.facade.Log.Warn("rejecting unidentifiable caller", "sender", sender, "error", err)
		return Caller{}, dbus.NewError(errNotAuthorized, []any{err.Error()})
	}
	caller := Caller{Sender: string(sender), UID: uid}
	if err := m.facade.Authorizer.Authorize(caller, action); err != nil {
		m.facade.Log.Warn("call not authorized",
			"sender", sender, "uid", uid, "action", action, "error", err)
		return Caller{}, dbus.NewError(errNotAuthorized, []any{err.Error()})
	}
	return caller, nil
}

// submitted converts an engine submission into its object path. The
// object itself was already exported by the engine's publish hook.
func (m *manager) submitted(op *operation.Operation, err error) (dbus.ObjectPath, *dbus.Error) {
	if errors.Is(err, operation.ErrTargetBusy) {
		return "", dbus.NewError(errTargetBusy, []any{err.Error()})
	}
	if err != nil {
		return "", dbus.NewError(errBackend, []any{err.Error()})
	}
	return operationPath(op.ID()), nil
}

// variantMap unwraps D-Bus variants for option validation.
func variantMap(raw map[string]dbus.Variant) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		out[key] = value.Value()
	}
	return out
}

// identityForUID resolves the host account an entry is prepared for.
func identityForUID(uid int) (plan.Identity, error) {
	account, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return plan.Identity{}, fmt.Errorf("looking up uid %d: %w", uid, err)
	}
	return plan.Identity{
		UID:      uid,
		Username: account.Username,
		HomeDir:  account.HomeDir,
	}, nil
}
