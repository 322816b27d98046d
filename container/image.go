// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kapsule-project/kapsule/incus"
)

// remotes maps image remote names to their simplestreams servers. The
// set matches the remotes the incus CLI ships with.
var remotes = map[string]string{
	"images":       "https://images.linuxcontainers.org",
	"ubuntu":       "https://cloud-images.ubuntu.com/releases",
	"ubuntu-daily": "https://cloud-images.ubuntu.com/daily",
}

// ParseImageRef turns a "remote:alias" image reference into an
// instance source. A bare alias with no remote defaults to the
// community image server.
func ParseImageRef(ref string) (incus.InstanceSource, error) {
	remote, alias, found := strings.Cut(ref, ":")
	if !found {
		remote, alias = "images", ref
	}
	if alias == "" {
		return incus.InstanceSource{}, fmt.Errorf("image reference %q has no alias", ref)
	}
	server, ok := remotes[remote]
	if !ok {
		known := make([]string, 0, len(remotes))
		for name := range remotes {
			known = append(known, name)
		}
		sort.Strings(known)
		return incus.InstanceSource{}, fmt.Errorf("unknown image remote %q (known: %s)",
			remote, strings.Join(known, ", "))
	}
	return incus.InstanceSource{
		Type:     "image",
		Protocol: "simplestreams",
		Server:   server,
		Alias:    alias,
	}, nil
}
