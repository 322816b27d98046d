// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package dbusapi is the daemon's service façade: one manager object
// accepting calls, plus one short-lived object per running operation
// mirroring its event stream as signals. All container logic lives in
// the container package; this layer only translates.
package dbusapi

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/kapsule-project/kapsule/operation"
)

const (
	// BusName is the well-known name claimed on the system bus.
	BusName = "org.kapsule.Kapsule"

	// ManagerPath hosts the manager object.
	ManagerPath dbus.ObjectPath = "/org/kapsule/Kapsule"
	// ManagerInterface is the manager's method interface.
	ManagerInterface = "org.kapsule.Kapsule.Manager"

	// OperationInterface is implemented by per-operation objects under
	// ManagerPath/operations/.
	OperationInterface = "org.kapsule.Kapsule.Operation"

	operationPathPrefix = string(ManagerPath) + "/operations/"
)

// operationPath maps an operation id onto its object path. Operation
// ids are uuids; the dashes are not legal in a path element.
func operationPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(operationPathPrefix + strings.ReplaceAll(id, "-", "_"))
}

// signalFor translates an engine event into its signal name and body.
// The body layouts are part of the wire interface and must not change
// shape between releases.
func signalFor(event operation.Event) (string, []any) {
	switch e := event.(type) {
	case operation.Message:
		return "Message", []any{e.Severity.String(), e.Text, uint32(e.Indent)}
	case operation.ProgressStarted:
		return "ProgressStarted", []any{uint32(e.SubID), e.Description, uint64(e.Total), uint32(e.Indent)}
	case operation.ProgressUpdate:
		return "ProgressUpdate", []any{uint32(e.SubID), uint64(e.Current), e.Rate}
	case operation.ProgressCompleted:
		return "ProgressCompleted", []any{uint32(e.SubID), e.OK, e.Text}
	case operation.Completed:
		return "Completed", []any{e.OK, e.Error}
	}
	return "", nil
}
