// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Kapsuled is the kapsule system daemon. It owns the connection to the
// local Incus daemon, converges the kapsule base profile on startup,
// and serves the org.kapsule.Kapsule interface on the system bus.
// Container lifecycle calls run as tracked operations whose progress
// streams back to clients as signals.
//
// On startup:
//  1. Loads host configuration (default container name and image).
//  2. Verifies the Incus socket answers.
//  3. Reconciles the kapsule-base profile (fatal on failure).
//  4. Exports the D-Bus façade and claims the bus name (fatal on
//     failure).
//  5. Serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/kapsule-project/kapsule/container"
	"github.com/kapsule-project/kapsule/dbusapi"
	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/lib/clock"
	"github.com/kapsule-project/kapsule/lib/config"
	"github.com/kapsule-project/kapsule/lib/version"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/plan"
	"github.com/kapsule-project/kapsule/profile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		incusSocket    string
		nvidiaHookPath string
		probeTimeout   time.Duration
		debug          bool
		showVersion    bool
	)

	pflag.StringVar(&configPath, "config", "", "configuration file (default: the standard lookup path)")
	pflag.StringVar(&incusSocket, "incus-socket", "/var/lib/incus/unix.socket", "Incus API unix socket")
	pflag.StringVar(&nvidiaHookPath, "nvidia-hook", "/usr/lib/kapsule/kapsule-nvidia-hook", "NVIDIA mount hook binary (registered on containers that request driver injection)")
	pflag.DurationVar(&probeTimeout, "probe-timeout", 2*time.Second, "per-resource timeout when probing host desktop sockets")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("kapsuled %s\n", version.Info())
		return nil
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	home, _ := os.UserHomeDir()
	cfg, err := config.Load(configPath, home)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger.Info("configuration loaded",
		"default_container", cfg.DefaultContainer,
		"default_image", cfg.DefaultImage)

	client := incus.NewClient(incus.ClientConfig{
		SocketPath: incusSocket,
		Logger:     logger.With("component", "incus"),
	})
	if err := client.Available(ctx); err != nil {
		return fmt.Errorf("incus is not reachable at %s: %w", incusSocket, err)
	}

	// The base profile must match this daemon's definition before any
	// container is touched.
	reconciler := &profile.Reconciler{
		Client: client,
		Log:    logger.With("component", "profile"),
	}
	if err := reconciler.Reconcile(ctx, profile.Base()); err != nil {
		return fmt.Errorf("reconciling profiles: %w", err)
	}

	wallClock := clock.Real()
	engine := operation.NewEngine(operation.EngineConfig{
		Clock: wallClock,
		Log:   logger.With("component", "operations"),
	})

	if _, err := os.Stat(nvidiaHookPath); err != nil {
		logger.Debug("nvidia hook not installed", "path", nvidiaHookPath)
		nvidiaHookPath = ""
	}
	service := &container.Service{
		Backend: client,
		Engine:  engine,
		Config:  cfg,
		Log:     logger.With("component", "containers"),
		Prober: &plan.Prober{
			Clock:   wallClock,
			Timeout: probeTimeout,
		},
		Run:            container.HostRunner{},
		NvidiaHookPath: nvidiaHookPath,
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to the system bus: %w", err)
	}
	defer conn.Close()

	facade := &dbusapi.Facade{
		Conn:        conn,
		Containers:  service,
		Engine:      engine,
		Log:         logger.With("component", "dbus"),
		Authorizer:  dbusapi.LocalUsers{},
		Credentials: dbusapi.BusCredentials(conn),
		Version:     version.Version,
	}
	if err := facade.Bind(); err != nil {
		return err
	}

	logger.Info("kapsuled ready", "version", version.Version)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
