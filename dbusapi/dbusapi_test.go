// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package dbusapi

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/kapsule-project/kapsule/operation"
)

func TestOperationPath(t *testing.T) {
	path := operationPath("2c5e8a1f-90cd-4d7e-8b69-f3a1c20d4b11")
	if path != "/org/kapsule/Kapsule/operations/2c5e8a1f_90cd_4d7e_8b69_f3a1c20d4b11" {
		t.Errorf("path = %q", path)
	}
	if !path.IsValid() {
		t.Errorf("path %q is not a valid object path", path)
	}
}

func TestSignalForCoversEveryEvent(t *testing.T) {
	tests := []struct {
		event    operation.Event
		wantName string
		wantLen  int
	}{
		{operation.Message{Severity: operation.SeverityWarning, Text: "hm", Indent: 1}, "Message", 3},
		{operation.ProgressStarted{SubID: 1, Description: "dl", Total: 10}, "ProgressStarted", 4},
		{operation.ProgressUpdate{SubID: 1, Current: 5, Rate: "1MB/s"}, "ProgressUpdate", 3},
		{operation.ProgressCompleted{SubID: 1, OK: true}, "ProgressCompleted", 3},
		{operation.Completed{OK: false, Error: "boom"}, "Completed", 2},
	}
	for _, test := range tests {
		name, body := signalFor(test.event)
		if name != test.wantName || len(body) != test.wantLen {
			t.Errorf("signalFor(%#v) = %q/%d, want %q/%d",
				test.event, name, len(body), test.wantName, test.wantLen)
		}
	}
}

func TestSignalBodiesAreWireStable(t *testing.T) {
	_, body := signalFor(operation.Message{Severity: operation.SeverityInfo, Text: "hi", Indent: 2})
	if body[0] != "info" || body[1] != "hi" || body[2] != uint32(2) {
		t.Errorf("message body = %#v", body)
	}

	_, body = signalFor(operation.Completed{OK: true})
	if body[0] != true || body[1] != "" {
		t.Errorf("completed body = %#v", body)
	}
}

func TestContainerNameValidation(t *testing.T) {
	valid := []string{"kapsule", "dev-2", "A", "my-Work-Box"}
	for _, name := range valid {
		if !containerNameRx.MatchString(name) {
			t.Errorf("%q rejected", name)
		}
	}
	invalid := []string{"", "-dash-first", "1digit", "has space", "dot.dot",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"} // 64 chars
	for _, name := range invalid {
		if containerNameRx.MatchString(name) {
			t.Errorf("%q accepted", name)
		}
	}
}

func TestVariantMap(t *testing.T) {
	raw := map[string]dbus.Variant{
		"session_mode":  dbus.MakeVariant(true),
		"custom_mounts": dbus.MakeVariant([]string{"/opt/data"}),
	}
	unwrapped := variantMap(raw)
	if unwrapped["session_mode"] != true {
		t.Errorf("session_mode = %#v", unwrapped["session_mode"])
	}
	mounts, ok := unwrapped["custom_mounts"].([]string)
	if !ok || len(mounts) != 1 || mounts[0] != "/opt/data" {
		t.Errorf("custom_mounts = %#v", unwrapped["custom_mounts"])
	}

	if variantMap(nil) != nil {
		t.Error("empty input should stay nil")
	}
}

func TestLocalUsersAuthorizer(t *testing.T) {
	authorizer := LocalUsers{}
	if err := authorizer.Authorize(Caller{Sender: ":1.7", UID: 1000}, ActionManage); err != nil {
		t.Errorf("identified user rejected: %v", err)
	}
	if err := authorizer.Authorize(Caller{Sender: ":1.7", UID: -1}, ActionEnter); err == nil {
		t.Error("caller without identity accepted")
	}
}
