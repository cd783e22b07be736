package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"salesgrid.io/internal/obs"
)

// OwnerResolver computes the owners whose records a viewer may see.
type OwnerResolver interface {
	AccessibleOwnerIDs(ctx context.Context, viewerID string) OwnerSet
}

// Resolver reads the directory and both edge stores. It never fails: any
// store error collapses the answer to the viewer alone.
type Resolver struct {
	store ResolverStore
	now   func() time.Time
}

var _ OwnerResolver = (*Resolver)(nil)

func NewResolver(store ResolverStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("resolver store is required")
	}
	return &Resolver{store: store, now: time.Now}, nil
}

// AccessibleOwnerIDs returns every owner id visible to viewerID. The result
// always contains viewerID itself.
func (r *Resolver) AccessibleOwnerIDs(ctx context.Context, viewerID string) OwnerSet {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return OwnerSet{}
	}
	start := r.now()
	role := r.roleOf(ctx, viewerID)
	defer func() { obs.ObserveResolver(string(role), r.now().Sub(start)) }()

	if role.IsAdmin() {
		ids, err := r.store.ListProfileIDs(ctx)
		if err != nil {
			r.fallback(viewerID, "list profiles", err)
			return NewOwnerSet(viewerID)
		}
		set := NewOwnerSet(ids...)
		set.Add(viewerID)
		return set
	}

	var granted, delegated []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		owners, err := r.store.GrantedOwners(gctx, viewerID)
		granted = owners
		return err
	})
	g.Go(func() error {
		owners, err := r.store.AdminOwners(gctx, viewerID)
		delegated = owners
		return err
	})
	if err := g.Wait(); err != nil {
		r.fallback(viewerID, "load edges", err)
		return NewOwnerSet(viewerID)
	}

	set := NewOwnerSet(viewerID)
	set.Add(granted...)
	set.Add(delegated...)
	return set
}

// roleOf treats a missing profile or unknown role as a plain user.
func (r *Resolver) roleOf(ctx context.Context, viewerID string) Role {
	profile, err := r.store.Profile(ctx, viewerID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Logger().WithFields(logrus.Fields{
				"viewer_id": viewerID,
				"error":     err.Error(),
			}).Warn("resolver role lookup failed")
		}
		return RoleUser
	}
	return RoleOrDefault(string(profile.Role))
}

func (r *Resolver) fallback(viewerID, stage string, err error) {
	obs.ObserveResolverFallback()
	obs.Logger().WithFields(logrus.Fields{
		"viewer_id": viewerID,
		"stage":     stage,
		"error":     err.Error(),
	}).Warn("resolver degraded to viewer-only set")
}
