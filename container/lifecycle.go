// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"time"

	"github.com/kapsule-project/kapsule/incus"
	"github.com/kapsule-project/kapsule/operation"
	"github.com/kapsule-project/kapsule/profile"
)

// Info is one row of the container listing.
type Info struct {
	Name   string
	Status string
	Image  string
	// Created is the backend's creation timestamp, RFC 3339.
	Created string
}

// List returns every kapsule-managed container. Managed means built on
// the base profile; other Incus instances on the same host are
// invisible to kapsule.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	instances, err := s.Backend.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for i := range instances {
		instance := &instances[i]
		if !managed(instance) {
			continue
		}
		infos = append(infos, Info{
			Name:    instance.Name,
			Status:  instance.Status,
			Image:   instance.ImageDescription(),
			Created: instance.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return infos, nil
}

func managed(instance *incus.Instance) bool {
	for _, name := range instance.Profiles {
		if name == profile.BaseName {
			return true
		}
	}
	return false
}

// Delete submits a deletion operation. A running container is stopped
// first only when force is set; otherwise deletion fails.
func (s *Service) Delete(name string, force bool) (*operation.Operation, error) {
	return s.Engine.Submit(operation.KindDelete, name, func(ctx context.Context, r *operation.Reporter) error {
		instance, err := s.Backend.GetInstance(ctx, name)
		if incus.IsNotFound(err) {
			return fmt.Errorf("container %q does not exist", name)
		}
		if err != nil {
			return err
		}
		if instance.IsRunning() {
			if !force {
				return fmt.Errorf("container %q is running (use force to stop and delete)", name)
			}
			r.Infof("stopping container %s", name)
			if err := s.Backend.StopInstance(ctx, name, true); err != nil {
				return fmt.Errorf("stopping container %q: %w", name, err)
			}
		}
		if err := r.Checkpoint(); err != nil {
			return err
		}
		r.Infof("deleting container %s", name)
		if err := s.Backend.DeleteInstance(ctx, name); err != nil {
			return fmt.Errorf("deleting container %q: %w", name, err)
		}
		s.mounts.forget(name)
		return nil
	})
}

// Start submits a start operation. Starting a running container
// succeeds with a warning.
func (s *Service) Start(name string) (*operation.Operation, error) {
	return s.Engine.Submit(operation.KindStart, name, func(ctx context.Context, r *operation.Reporter) error {
		instance, err := s.Backend.GetInstance(ctx, name)
		if incus.IsNotFound(err) {
			return fmt.Errorf("container %q does not exist", name)
		}
		if err != nil {
			return err
		}
		if instance.IsRunning() {
			r.Warnf("container %s is already running", name)
			return nil
		}
		r.Infof("starting container %s", name)
		if err := s.Backend.StartInstance(ctx, name); err != nil {
			return fmt.Errorf("starting container %q: %w", name, err)
		}
		return nil
	})
}

// Stop submits a stop operation. Stopping a stopped container succeeds
// with a warning.
func (s *Service) Stop(name string, force bool) (*operation.Operation, error) {
	return s.Engine.Submit(operation.KindStop, name, func(ctx context.Context, r *operation.Reporter) error {
		instance, err := s.Backend.GetInstance(ctx, name)
		if incus.IsNotFound(err) {
			return fmt.Errorf("container %q does not exist", name)
		}
		if err != nil {
			return err
		}
		if !instance.IsRunning() {
			r.Warnf("container %s is already stopped", name)
			return nil
		}
		r.Infof("stopping container %s", name)
		if err := s.Backend.StopInstance(ctx, name, force); err != nil {
			return fmt.Errorf("stopping container %q: %w", name, err)
		}
		s.mounts.forget(name)
		return nil
	})
}
