package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/policy"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/logger"
)

// LifecycleSweepWorker expires stale pending signups and purges expired
// identities past retention. Organizations owned by a swept user follow
// the user's state, so their slugs become reclaimable.
type LifecycleSweepWorker struct {
	userRepo       repository.UserRepository
	orgRepo        repository.OrganizationRepository
	membershipRepo repository.MembershipRepository
	interval       time.Duration
	retention      time.Duration
	logger         *logger.Logger
}

func NewLifecycleSweepWorker(
	userRepo repository.UserRepository,
	orgRepo repository.OrganizationRepository,
	membershipRepo repository.MembershipRepository,
	interval time.Duration,
	retention time.Duration,
	logger *logger.Logger,
) *LifecycleSweepWorker {
	return &LifecycleSweepWorker{
		userRepo:       userRepo,
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		interval:       interval,
		retention:      retention,
		logger:         logger,
	}
}

func (w *LifecycleSweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error(err, "lifecycle sweep failed")
			}
		}
	}
}

// Sweep runs one pass. Split out from Start so it can be triggered and
// tested directly.
func (w *LifecycleSweepWorker) Sweep(ctx context.Context) error {
	now := time.Now()

	if err := w.expirePending(ctx, now); err != nil {
		return err
	}
	return w.purgeExpired(ctx, now)
}

func (w *LifecycleSweepWorker) expirePending(ctx context.Context, now time.Time) error {
	pending, err := w.userRepo.ListByStatus(ctx, model.UserStatusPendingVerification)
	if err != nil {
		return fmt.Errorf("failed to list pending users: %w", err)
	}

	expired := 0
	for _, user := range pending {
		if !policy.ShouldExpireUser(user, now) {
			continue
		}
		if err := w.userRepo.MarkExpired(ctx, user.ID, now); err != nil {
			w.logger.Error(err, "failed to expire user", "user_id", user.ID.String())
			continue
		}
		w.updateOwnedOrganizations(ctx, user.ID, model.UserStatusExpired)
		expired++
	}

	if expired > 0 {
		w.logger.Info("expired stale pending signups", "count", expired)
	}
	return nil
}

func (w *LifecycleSweepWorker) purgeExpired(ctx context.Context, now time.Time) error {
	expired, err := w.userRepo.ListByStatus(ctx, model.UserStatusExpired)
	if err != nil {
		return fmt.Errorf("failed to list expired users: %w", err)
	}

	cutoff := now.Add(-w.retention)
	purged := 0
	for _, user := range expired {
		if user.ExpiredAt == nil || user.ExpiredAt.After(cutoff) {
			continue
		}
		w.updateOwnedOrganizations(ctx, user.ID, model.UserStatusDeleted)
		if err := w.userRepo.Delete(ctx, user.ID); err != nil {
			w.logger.Error(err, "failed to purge user", "user_id", user.ID.String())
			continue
		}
		purged++
	}

	if purged > 0 {
		w.logger.Info("purged expired identities past retention", "count", purged)
	}
	return nil
}

func (w *LifecycleSweepWorker) updateOwnedOrganizations(ctx context.Context, userID uuid.UUID, status model.UserStatus) {
	memberships, err := w.membershipRepo.ListByUser(ctx, userID)
	if err != nil {
		w.logger.Error(err, "failed to list memberships", "user_id", userID.String())
		return
	}
	for _, m := range memberships {
		if m.Role != model.RoleSuperAdmin {
			continue
		}
		if err := w.orgRepo.UpdateStatus(ctx, m.OrganizationID, status); err != nil {
			w.logger.Error(err, "failed to update organization status",
				"organization_id", m.OrganizationID.String())
		}
	}
}
