// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package incus is a typed client for the Incus REST API over its local
// unix socket.
//
// The client is a thin transport layer: it translates method calls into
// HTTP requests, unwraps the Incus response envelope, waits on
// background operations where the API is asynchronous, and classifies
// failures into [Error] kinds (unreachable, not found, conflict,
// rejected). It performs no retries — whether a failed call is safe to
// repeat is a decision for the calling operation, which knows whether
// the call was idempotent.
package incus
