package app

import (
	"context"
	"errors"
	"fmt"

	"callroom/internal/domain"
	"callroom/internal/store"
)

// Permission names one administrative capability checked by the gate.
type Permission int

const (
	// PermOwner marks operations reserved for the room owner.
	PermOwner Permission = iota
	PermKick
	PermBan
	PermMute
	PermChangeSettings
)

// Gate authorizes administrative actions and screens admissions against
// ban state. It holds no state of its own; every check reads the store
// so an admin-surface mutation is honored immediately.
type Gate struct {
	store store.Store
}

func NewGate(st store.Store) *Gate {
	return &Gate{store: st}
}

// CheckAdmission rejects an identity with an active ban. Called inside
// the admission critical section; never cached.
func (g *Gate) CheckAdmission(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	ban, err := g.store.FindActiveBan(ctx, roomID, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: ban lookup: %w", ErrInternal, err)
	}
	return &BanError{Reason: ban.Reason, ExpiresAt: ban.ExpiresAt}
}

// Authorize admits the room owner unconditionally; anyone else needs a
// moderator grant carrying the specific permission.
func (g *Gate) Authorize(ctx context.Context, room *domain.Room, caller domain.Identity, perm Permission) error {
	if caller != "" && caller == room.Owner {
		return nil
	}
	if perm == PermOwner {
		return fmt.Errorf("%w: only the room owner may do this", ErrForbidden)
	}
	grant, err := g.store.FindModerator(ctx, room.RoomID, caller)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: not a moderator", ErrForbidden)
	}
	if err != nil {
		return fmt.Errorf("%w: moderator lookup: %w", ErrInternal, err)
	}
	allowed := false
	switch perm {
	case PermKick:
		allowed = grant.Permissions.CanKick
	case PermBan:
		allowed = grant.Permissions.CanBan
	case PermMute:
		allowed = grant.Permissions.CanMute
	case PermChangeSettings:
		allowed = grant.Permissions.CanChangeSettings
	}
	if !allowed {
		return fmt.Errorf("%w: missing permission", ErrForbidden)
	}
	return nil
}
