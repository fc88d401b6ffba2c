package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/logger"
)

type fakeUserRepo struct {
	repository.UserRepository
	users map[uuid.UUID]*model.User
}

func (f *fakeUserRepo) ListByStatus(ctx context.Context, status model.UserStatus) ([]*model.User, error) {
	var out []*model.User
	for _, u := range f.users {
		if u.Status == status {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = model.UserStatusExpired
	u.ExpiredAt = &at
	return nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.users, id)
	return nil
}

type fakeOrgRepo struct {
	repository.OrganizationRepository
	statuses map[uuid.UUID]model.UserStatus
}

func (f *fakeOrgRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.UserStatus) error {
	f.statuses[id] = status
	return nil
}

type fakeMembershipRepo struct {
	repository.MembershipRepository
	memberships []*model.Membership
}

func (f *fakeMembershipRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error) {
	var out []*model.Membership
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func newSweepFixture() (*LifecycleSweepWorker, *fakeUserRepo, *fakeOrgRepo, *fakeMembershipRepo) {
	userRepo := &fakeUserRepo{users: map[uuid.UUID]*model.User{}}
	orgRepo := &fakeOrgRepo{statuses: map[uuid.UUID]model.UserStatus{}}
	membershipRepo := &fakeMembershipRepo{}

	w := NewLifecycleSweepWorker(userRepo, orgRepo, membershipRepo,
		time.Minute, 30*24*time.Hour, logger.NewLogger(nil))
	return w, userRepo, orgRepo, membershipRepo
}

func seedUser(repo *fakeUserRepo, status model.UserStatus, pendingExpiresAt, expiredAt *time.Time) *model.User {
	u := &model.User{Status: status, PendingExpiresAt: pendingExpiresAt, ExpiredAt: expiredAt}
	u.ID = uuid.New()
	repo.users[u.ID] = u
	return u
}

func TestSweepExpiresStalePendingSignups(t *testing.T) {
	w, userRepo, orgRepo, membershipRepo := newSweepFixture()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	stale := seedUser(userRepo, model.UserStatusPendingVerification, &past, nil)
	fresh := seedUser(userRepo, model.UserStatusPendingVerification, &future, nil)

	orgID := uuid.New()
	membershipRepo.memberships = append(membershipRepo.memberships, &model.Membership{
		UserID: stale.ID, OrganizationID: orgID, Role: model.RoleSuperAdmin,
	})

	require.NoError(t, w.Sweep(context.Background()))

	assert.Equal(t, model.UserStatusExpired, userRepo.users[stale.ID].Status)
	assert.NotNil(t, userRepo.users[stale.ID].ExpiredAt)
	assert.Equal(t, model.UserStatusPendingVerification, userRepo.users[fresh.ID].Status)
	assert.Equal(t, model.UserStatusExpired, orgRepo.statuses[orgID],
		"owned organization must follow its owner")
}

func TestSweepPurgesExpiredUsersPastRetention(t *testing.T) {
	w, userRepo, orgRepo, membershipRepo := newSweepFixture()

	longAgo := time.Now().Add(-60 * 24 * time.Hour)
	recently := time.Now().Add(-time.Hour)
	old := seedUser(userRepo, model.UserStatusExpired, nil, &longAgo)
	kept := seedUser(userRepo, model.UserStatusExpired, nil, &recently)

	orgID := uuid.New()
	membershipRepo.memberships = append(membershipRepo.memberships, &model.Membership{
		UserID: old.ID, OrganizationID: orgID, Role: model.RoleSuperAdmin,
	})

	require.NoError(t, w.Sweep(context.Background()))

	_, exists := userRepo.users[old.ID]
	assert.False(t, exists, "user past retention must be purged")
	_, exists = userRepo.users[kept.ID]
	assert.True(t, exists, "user within retention must be kept")
	assert.Equal(t, model.UserStatusDeleted, orgRepo.statuses[orgID])
}

func TestSweepIgnoresNonOwnerMemberships(t *testing.T) {
	w, userRepo, orgRepo, membershipRepo := newSweepFixture()

	past := time.Now().Add(-time.Hour)
	stale := seedUser(userRepo, model.UserStatusPendingVerification, &past, nil)

	orgID := uuid.New()
	membershipRepo.memberships = append(membershipRepo.memberships, &model.Membership{
		UserID: stale.ID, OrganizationID: orgID, Role: model.RoleOperator,
	})

	require.NoError(t, w.Sweep(context.Background()))
	_, touched := orgRepo.statuses[orgID]
	assert.False(t, touched, "organizations the user does not own must not change")
}
