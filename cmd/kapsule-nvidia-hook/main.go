// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Kapsule-nvidia-hook injects the host's NVIDIA userspace drivers into
// a container rootfs. It runs as an LXC mount hook, registered at
// container creation when driver injection is requested, so the driver
// version inside the container always matches the host kernel module —
// even after a host driver upgrade.
//
// On hosts without NVIDIA hardware or without nvidia-container-cli the
// hook exits zero without output: a missing driver must never prevent
// a container from starting.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

func main() {
	if err := run(); err != nil {
		// Output lands in the LXC hook log.
		fmt.Fprintf(os.Stderr, "kapsule-nvidia-hook: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootfs := os.Getenv("LXC_ROOTFS_MOUNT")
	if rootfs == "" {
		return fmt.Errorf("LXC_ROOTFS_MOUNT is not set (not running as an LXC hook?)")
	}

	// Silent no-op unless the host actually has an NVIDIA stack: the
	// userspace tooling and at least one device node.
	cli, err := exec.LookPath("nvidia-container-cli")
	if err != nil {
		return nil
	}
	var stat unix.Stat_t
	if err := unix.Stat("/dev/nvidia0", &stat); err != nil {
		return nil
	}

	configure := exec.Command(cli,
		"configure",
		"--ldconfig=@/sbin/ldconfig",
		"--no-cgroups",
		"--utility",
		"--compute",
		"--graphics",
		"--display",
		"--device=all",
		rootfs,
	)
	configure.Stdout = os.Stderr
	configure.Stderr = os.Stderr
	if err := configure.Run(); err != nil {
		return fmt.Errorf("nvidia-container-cli configure: %w", err)
	}
	return nil
}
