// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan decides which Incus devices, bind mounts, and environment
// overrides a container needs. It is pure decision logic: probing the
// host is the only side effect, and even that is injected so tests can
// run against a fabricated host.
//
// Two moments call into this package. At creation time CreationDevices
// turns the container's options into its permanent device set. At entry
// time Probe discovers which desktop sockets the calling user actually
// has, and EntryPlan turns that into the per-session wiring: either
// environment variables pointing into the full host mount, or targeted
// devices plus bind-mount items when the host filesystem is not mounted.
package plan
