package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rooflinehq/roofline/internal/model"
)

// LoadSnapshot assembles the full relation graph one compliance calculation
// reads. The organization row is fetched first so a missing org fails fast
// with ErrNotFound; the six dependent relations load concurrently.
func (db *DB) LoadSnapshot(ctx context.Context, orgID uuid.UUID) (model.OrganizationSnapshot, error) {
	org, err := db.GetOrganization(ctx, orgID)
	if err != nil {
		return model.OrganizationSnapshot{}, err
	}

	snap := model.OrganizationSnapshot{
		Organization: org,
		LoadedAt:     time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Policies, err = db.ListInsurancePolicies(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Members, err = db.ListMembers(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Documents, err = db.ListDocuments(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Assessments, err = db.ListAssessments(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.LatestAudit, err = db.GetLatestCompletedAudit(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.CAPAs, err = db.ListCAPAs(gctx, orgID, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.OrganizationSnapshot{}, err
	}
	return snap, nil
}
