package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/rbac"
	"tasksync/pkg/trace"
)

const (
	OpCreateMember  = "create_member"
	OpUpdateProfile = "update_profile"
)

// CreateMember adds a member profile. Admins only.
func (c *Coordinator) CreateMember(ctx context.Context, actor model.Identity, in model.ProfileInput) (model.Profile, error) {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionManageProfile); err != nil {
		return model.Profile{}, c.reject(ctx, OpCreateMember, ErrForbidden, err)
	}

	in.Role = model.RoleMember
	in.PasswordHash = ""
	if err := in.Validate(); err != nil {
		return model.Profile{}, c.reject(ctx, OpCreateMember, ErrInvalid, err)
	}
	if c.nameInUse(in.Name, "") {
		return model.Profile{}, c.reject(ctx, OpCreateMember, ErrInvalid, store.ErrNameTaken)
	}

	optimistic := in.Profile(TempIDPrefix+uuid.NewString(), c.now())
	prior := c.cache.Profiles.Put(optimistic)

	var created model.Profile
	err := c.dispatch(ctx, OpCreateMember, model.CollectionProfiles,
		func() { c.cache.Profiles.Restore(prior) },
		func(ctx context.Context) error {
			var err error
			created, err = c.store.InsertProfile(ctx, in)
			if err != nil {
				return err
			}
			c.cache.Profiles.Rekey(optimistic.ID, created)
			return nil
		})
	if err != nil {
		return model.Profile{}, err
	}
	return created, nil
}

// UpdateProfile changes a profile. Admins only: a member's name decides which
// tasks they own, so members cannot rename themselves.
func (c *Coordinator) UpdateProfile(ctx context.Context, actor model.Identity, id string, patch model.ProfilePatch) (model.Profile, error) {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionManageProfile); err != nil {
		return model.Profile{}, c.reject(ctx, OpUpdateProfile, ErrForbidden, err)
	}

	current, ok := c.cache.Profiles.Find(id)
	if !ok {
		return model.Profile{}, c.reject(ctx, OpUpdateProfile, ErrInvalid, fmt.Errorf("profile %s: %w", id, store.ErrNotFound))
	}
	if patch.Empty() {
		return model.Profile{}, c.reject(ctx, OpUpdateProfile, ErrInvalid, fmt.Errorf("%w: empty patch", model.ErrInvalidProfile))
	}
	if err := patch.Validate(); err != nil {
		return model.Profile{}, c.reject(ctx, OpUpdateProfile, ErrInvalid, err)
	}
	if patch.Name != nil && c.nameInUse(*patch.Name, id) {
		return model.Profile{}, c.reject(ctx, OpUpdateProfile, ErrInvalid, store.ErrNameTaken)
	}

	next := patch.Apply(current)
	next.UpdatedAt = c.now()
	prior := c.cache.Profiles.Put(next)

	var updated model.Profile
	err := c.dispatch(ctx, OpUpdateProfile, model.CollectionProfiles,
		func() { c.cache.Profiles.Restore(prior) },
		func(ctx context.Context) error {
			var err error
			updated, err = c.store.UpdateProfile(ctx, id, patch)
			if err != nil {
				return err
			}
			c.cache.Profiles.Put(updated)
			return nil
		})
	if err != nil {
		return model.Profile{}, err
	}
	return updated, nil
}

// nameInUse reports whether another cached profile already goes by name.
// The record store enforces the same rule for profiles not yet cached.
func (c *Coordinator) nameInUse(name, exceptID string) bool {
	name = strings.TrimSpace(name)
	for _, p := range c.cache.Profiles.Get() {
		if p.ID != exceptID && strings.EqualFold(strings.TrimSpace(p.Name), name) {
			return true
		}
	}
	return false
}
