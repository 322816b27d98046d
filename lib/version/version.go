// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the daemon version string reported over the
// D-Bus Version property and the --version flag.
package version

// Version is the kapsule release version. Overridden at build time:
//
//	go build -ldflags "-X github.com/kapsule-project/kapsule/lib/version.Version=1.2.3"
var Version = "0.1.0-dev"

// Info returns the version string.
func Info() string { return Version }
