// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kapsule-project/kapsule/incus"
)

// Client is the slice of the Incus API the reconciler needs.
type Client interface {
	GetProfile(ctx context.Context, name string) (*incus.Profile, error)
	CreateProfile(ctx context.Context, profile incus.ProfilesPost) error
	UpdateProfile(ctx context.Context, name string, put incus.ProfilePut) error
}

// Reconciler converges Incus profiles toward their built-in
// definitions. It only ever creates or updates in place: managed
// profiles are never deleted, because running containers reference
// them.
type Reconciler struct {
	Client Client
	Log    *slog.Logger
}

// Reconcile brings each definition's profile up to date. A profile is
// created if absent, rewritten if its stored hash does not match the
// definition, and left untouched otherwise. Errors abort immediately:
// the daemon must not serve requests against profiles in an unknown
// state.
func (r *Reconciler) Reconcile(ctx context.Context, defs ...Definition) error {
	for _, def := range defs {
		if err := r.reconcileOne(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, def Definition) error {
	hash, err := def.Hash()
	if err != nil {
		return err
	}

	existing, err := r.Client.GetProfile(ctx, def.Name)
	switch {
	case incus.IsNotFound(err):
		err := r.Client.CreateProfile(ctx, incus.ProfilesPost{
			Name:        def.Name,
			Description: def.Description,
			Config:      def.render(hash),
			Devices:     def.Devices,
		})
		if incus.IsConflict(err) {
			// Lost a race (or an older daemon left the profile
			// without a hash). Re-read and fall through to the
			// update path.
			existing, err = r.Client.GetProfile(ctx, def.Name)
			if err != nil {
				return fmt.Errorf("re-reading profile %q after create conflict: %w", def.Name, err)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("creating profile %q: %w", def.Name, err)
		}
		r.Log.Info("profile created", "profile", def.Name, "hash", hash)
		return nil
	case err != nil:
		return fmt.Errorf("reading profile %q: %w", def.Name, err)
	}

	if existing.Config[HashKey] == hash {
		return nil
	}

	// Update in place: a profile in use by containers cannot be
	// replaced, only rewritten.
	err = r.Client.UpdateProfile(ctx, def.Name, incus.ProfilePut{
		Description: def.Description,
		Config:      def.render(hash),
		Devices:     def.Devices,
	})
	if err != nil {
		return fmt.Errorf("updating profile %q: %w", def.Name, err)
	}
	r.Log.Info("profile updated",
		"profile", def.Name,
		"hash", hash,
		"previous_hash", existing.Config[HashKey])
	return nil
}
