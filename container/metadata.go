// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/options"
)

// Instance config keys under which a container's creation options are
// persisted. The instance itself is the only durable record of its
// options; the daemon re-reads them on every entry.
const (
	keySessionMode   = "user.kapsule.session-mode"
	keyDBusMux       = "user.kapsule.dbus-mux"
	keyHostRootfs    = "user.kapsule.host-rootfs"
	keyMountHome     = "user.kapsule.mount-home"
	keyCustomMounts  = "user.kapsule.custom-mounts"
	keyGPU           = "user.kapsule.gpu"
	keyNvidiaDrivers = "user.kapsule.nvidia-drivers"
)

// mappedKey marks a host user as fully set up inside a container.
func mappedKey(uid int) string {
	return fmt.Sprintf("user.kapsule.host-users.%d.mapped", uid)
}

// optionsToConfig persists normalized options as instance config.
func optionsToConfig(opts options.Options) (map[string]string, error) {
	mounts, err := json.Marshal(opts.CustomMounts)
	if err != nil {
		return nil, fmt.Errorf("encoding custom mounts: %w", err)
	}
	return map[string]string{
		keySessionMode:   strconv.FormatBool(opts.SessionMode),
		keyDBusMux:       strconv.FormatBool(opts.DBusMux),
		keyHostRootfs:    strconv.FormatBool(opts.HostRootfs),
		keyMountHome:     strconv.FormatBool(opts.MountHome),
		keyCustomMounts:  string(mounts),
		keyGPU:           strconv.FormatBool(opts.GPU),
		keyNvidiaDrivers: strconv.FormatBool(opts.NvidiaDrivers),
	}, nil
}

// optionsFromInstance recovers a container's creation options from its
// config. Keys written by a newer daemon are ignored; keys missing
// entirely (container predates the option) fall back to the option's
// default, which is how new options stay backward compatible.
func optionsFromInstance(instance *incus.Instance) (options.Options, error) {
	opts := options.Defaults()

	boolKey := func(key string, into *bool) error {
		raw, ok := instance.Config[key]
		if !ok {
			return nil
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("instance %q has malformed %s=%q", instance.Name, key, raw)
		}
		*into = value
		return nil
	}

	for _, field := range []struct {
		key  string
		into *bool
	}{
		{keySessionMode, &opts.SessionMode},
		{keyDBusMux, &opts.DBusMux},
		{keyHostRootfs, &opts.HostRootfs},
		{keyMountHome, &opts.MountHome},
		{keyGPU, &opts.GPU},
		{keyNvidiaDrivers, &opts.NvidiaDrivers},
	} {
		if err := boolKey(field.key, field.into); err != nil {
			return options.Options{}, err
		}
	}

	if raw, ok := instance.Config[keyCustomMounts]; ok && raw != "" {
		var mounts []string
		if err := json.Unmarshal([]byte(raw), &mounts); err != nil {
			return options.Options{}, fmt.Errorf("instance %q has malformed %s: %w",
				instance.Name, keyCustomMounts, err)
		}
		opts.CustomMounts = mounts
	}
	return opts, nil
}

// userMapped reports whether a host uid has been set up in the
// instance.
func userMapped(instance *incus.Instance, uid int) bool {
	return instance.Config[mappedKey(uid)] == "true"
}
