// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile manages the Incus profiles kapsule containers are
// built on. Each managed profile carries a content hash in its config;
// the reconciler compares hashes at daemon startup and rewrites any
// profile whose stored definition has drifted from the built-in one.
package profile

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/lib/codec"
)

// HashKey is the profile config key holding the content hash. The hash
// is an opaque tag: equality means "written by this definition", and
// nothing else inspects it.
const HashKey = "user.kapsule.profile-hash"

// hashLength is the number of hex characters stored under HashKey.
const hashLength = 16

// Definition is the desired state of one managed profile.
type Definition struct {
	Name        string
	Description string
	Config      map[string]string
	Devices     map[string]incus.Device
}

// hashable is the canonical encoding input. The profile name is
// deliberately excluded so renaming a definition does not mask content
// drift, and the hash key itself never feeds its own hash.
type hashable struct {
	Description string                  `cbor:"description"`
	Config      map[string]string       `cbor:"config"`
	Devices     map[string]incus.Device `cbor:"devices"`
}

// Hash returns the definition's content hash: a truncated blake3 digest
// of the deterministic encoding of everything except the name.
func (d Definition) Hash() (string, error) {
	config := make(map[string]string, len(d.Config))
	for key, value := range d.Config {
		if key == HashKey {
			continue
		}
		config[key] = value
	}

	encoded, err := codec.Marshal(hashable{
		Description: d.Description,
		Config:      config,
		Devices:     d.Devices,
	})
	if err != nil {
		return "", fmt.Errorf("encoding profile %q: %w", d.Name, err)
	}
	digest := blake3.Sum256(encoded)
	return hex.EncodeToString(digest[:])[:hashLength], nil
}

// render returns the config to store on the Incus side: the
// definition's config plus the content hash.
func (d Definition) render(hash string) map[string]string {
	config := make(map[string]string, len(d.Config)+1)
	for key, value := range d.Config {
		config[key] = value
	}
	config[HashKey] = hash
	return config
}
