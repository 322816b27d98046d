// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package dbusapi

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Action classifies what a caller is asking for, for authorization
// purposes.
type Action string

const (
	// ActionManage covers the mutating lifecycle calls: create,
	// delete, start, stop, cancel.
	ActionManage Action = "manage"
	// ActionEnter covers preparing an interactive entry.
	ActionEnter Action = "enter"
)

// Caller identifies the D-Bus peer behind a call.
type Caller struct {
	Sender string
	UID    int
}

// Authorizer gates every mutating call. A non-nil error rejects the
// call before any operation is created.
type Authorizer interface {
	Authorize(caller Caller, action Action) error
}

// CredentialFunc resolves a bus sender to its unix uid. The production
// implementation asks the bus daemon; tests substitute a table.
type CredentialFunc func(sender dbus.Sender) (int, error)

// BusCredentials resolves sender uids through the bus daemon's
// GetConnectionCredentials call.
func BusCredentials(conn *dbus.Conn) CredentialFunc {
	return func(sender dbus.Sender) (int, error) {
		var credentials map[string]dbus.Variant
		err := conn.BusObject().
			Call("org.freedesktop.DBus.GetConnectionCredentials", 0, string(sender)).
			Store(&credentials)
		if err != nil {
			return 0, fmt.Errorf("resolving credentials of %s: %w", sender, err)
		}
		uid, ok := credentials["UnixUserID"].Value().(uint32)
		if !ok {
			return 0, fmt.Errorf("bus daemon reported no unix uid for %s", sender)
		}
		return int(uid), nil
	}
}

// LocalUsers authorizes any identified local user. The system bus
// policy file is the outer gate (it restricts who may talk to the
// service at all); this layer only insists that the caller has a
// resolvable identity, since entries are prepared for that uid.
type LocalUsers struct{}

func (LocalUsers) Authorize(caller Caller, action Action) error {
	if caller.UID < 0 {
		return fmt.Errorf("caller %s has no resolvable uid", caller.Sender)
	}
	return nil
}
