package apikey

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	apperrors "github.com/docskit/tenant-api/pkg/errors"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
	"github.com/docskit/tenant-api/pkg/task"
)

func TestGenerateRawKeyFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		raw, err := GenerateRawKey(model.KeyEnvironmentLive)
		require.NoError(t, err)
		assert.Len(t, raw, 40)
		assert.True(t, strings.HasPrefix(raw, "dk_live_"), "got %q", raw)
		for _, c := range raw[len("dk_live_"):] {
			assert.Contains(t, base62Alphabet, string(c))
		}
		assert.False(t, seen[raw], "generated keys must be distinct")
		seen[raw] = true
	}

	raw, err := GenerateRawKey(model.KeyEnvironmentTest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "dk_test_"))
}

func TestHashAPIKeyIsDeterministicAndOneWay(t *testing.T) {
	raw := "dk_live_0123456789abcdefghijklmnopqrstuv"
	assert.Equal(t, HashAPIKey(raw), HashAPIKey(raw))
	assert.NotEqual(t, HashAPIKey(raw), HashAPIKey(raw+"x"))
	assert.Len(t, HashAPIKey(raw), 64)
	assert.NotContains(t, HashAPIKey(raw), raw)
}

func TestValidateOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed string
		want    bool
	}{
		{"absent origin allowed", "", "example.com", true},
		{"exact match", "https://example.com", "example.com", true},
		{"exact match with port", "https://example.com:8443", "example.com", true},
		{"case insensitive", "https://EXAMPLE.com", "example.com", true},
		{"different host", "https://evil.com", "example.com", false},
		{"subdomain without wildcard", "https://app.example.com", "example.com", false},
		{"wildcard matches subdomain", "https://app.example.com", "*.example.com", true},
		{"wildcard matches bare domain", "https://example.com", "*.example.com", true},
		{"wildcard rejects suffix trick", "https://notexample.com", "*.example.com", false},
		{"no allowed domain", "https://example.com", "", false},
		{"malformed origin", "://bad", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateOrigin(tt.origin, tt.allowed))
		})
	}
}

type fakeKeyRepo struct {
	repository.APIKeyRepository
	keys          map[string]*model.APIKey
	byID          map[uuid.UUID]*model.APIKey
	app           *model.Application
	created       int
	collideFirstN int
	maxKeysSeen   int
	atQuota       bool
}

func (f *fakeKeyRepo) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	key, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return key, nil
}

func (f *fakeKeyRepo) Regenerate(ctx context.Context, oldID uuid.UUID, replacement *model.APIKey) error {
	old, ok := f.byID[oldID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	old.RevokedAt = &now
	replacement.ID = uuid.New()
	f.byID[replacement.ID] = replacement
	return nil
}

func (f *fakeKeyRepo) CreateWithQuota(ctx context.Context, key *model.APIKey, maxKeys int) error {
	f.maxKeysSeen = maxKeys
	if f.atQuota {
		return repository.ErrKeyQuotaExceeded
	}
	if f.created < f.collideFirstN {
		f.created++
		return repository.ErrDuplicateKeyHash
	}
	f.created++
	key.ID = uuid.New()
	if f.keys == nil {
		f.keys = map[string]*model.APIKey{}
	}
	f.keys[key.KeyHash] = key
	return nil
}

func (f *fakeKeyRepo) GetByHash(ctx context.Context, hash string) (*model.APIKey, *model.Application, error) {
	key, ok := f.keys[hash]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	return key, f.app, nil
}

type fakeAppRepo struct {
	repository.ApplicationRepository
	app *model.Application
}

func (f *fakeAppRepo) Get(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	if f.app == nil || f.app.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.app, nil
}

type fakeOrgRepo struct {
	repository.OrganizationRepository
	org *model.Organization
}

func (f *fakeOrgRepo) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	if f.org == nil {
		return nil, repository.ErrNotFound
	}
	return f.org, nil
}

func newTestService(t *testing.T, keyRepo *fakeKeyRepo, app *model.Application, plan model.Plan) *Service {
	t.Helper()

	org := &model.Organization{Plan: plan}
	org.ID = app.OrganizationID

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry(), "docskit", "test")
	log := logger.NewLogger(nil)
	tasks := task.NewRunner(task.RunnerConfig{QueueSize: 16, Workers: 1}, log, m)

	return NewService(keyRepo, &fakeAppRepo{app: app}, &fakeOrgRepo{org: org}, tasks, log, m)
}

func newTestApp() *model.Application {
	app := &model.Application{OrganizationID: uuid.New()}
	app.ID = uuid.New()
	return app
}

func TestCreateAPIKeyUsesPlanQuota(t *testing.T) {
	app := newTestApp()
	keyRepo := &fakeKeyRepo{}
	svc := newTestService(t, keyRepo, app, model.PlanPremium)

	created, err := svc.CreateAPIKey(context.Background(), app.ID, &model.CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)
	assert.Equal(t, 10, keyRepo.maxKeysSeen)
	assert.True(t, strings.HasPrefix(created.RawKey, "dk_live_"))
	assert.Equal(t, HashAPIKey(created.RawKey), created.KeyHash)
	assert.Equal(t, created.RawKey[:16], created.KeyPrefix)
}

func TestCreateAPIKeyQuotaExceeded(t *testing.T) {
	app := newTestApp()
	keyRepo := &fakeKeyRepo{atQuota: true}
	svc := newTestService(t, keyRepo, app, model.PlanFree)

	_, err := svc.CreateAPIKey(context.Background(), app.ID, &model.CreateAPIKeyRequest{})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrQuotaExceeded, appErr.Code)
	assert.Equal(t, 422, appErr.StatusCode())
}

func TestCreateAPIKeyRetriesOnHashCollision(t *testing.T) {
	app := newTestApp()
	keyRepo := &fakeKeyRepo{collideFirstN: 2}
	svc := newTestService(t, keyRepo, app, model.PlanBasic)

	created, err := svc.CreateAPIKey(context.Background(), app.ID, &model.CreateAPIKeyRequest{})
	require.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, 3, keyRepo.created)
}

func TestCreateAPIKeyGivesUpAfterRetries(t *testing.T) {
	app := newTestApp()
	keyRepo := &fakeKeyRepo{collideFirstN: 10}
	svc := newTestService(t, keyRepo, app, model.PlanBasic)

	_, err := svc.CreateAPIKey(context.Background(), app.ID, &model.CreateAPIKeyRequest{})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrGenerationFailure, appErr.Code)
	assert.Equal(t, 3, keyRepo.created, "must stop after three attempts")
}

func TestVerifyAPIKeyOutcomes(t *testing.T) {
	app := newTestApp()
	raw := "dk_live_0123456789abcdefghijklmnopqrstuv"
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		key    *model.APIKey
		lookup string
		valid  bool
		reason model.VerifyReason
	}{
		{"unknown key", nil, "dk_live_nope", false, model.VerifyReasonNotFound},
		{"revoked key", &model.APIKey{RevokedAt: &past}, raw, false, model.VerifyReasonRevoked},
		{"expired key", &model.APIKey{ExpiresAt: &past}, raw, false, model.VerifyReasonExpired},
		{"revocation wins over expiry", &model.APIKey{RevokedAt: &past, ExpiresAt: &past}, raw, false, model.VerifyReasonRevoked},
		{"valid key", &model.APIKey{ExpiresAt: &future}, raw, true, ""},
		{"valid key without expiry", &model.APIKey{}, raw, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyRepo := &fakeKeyRepo{app: app, keys: map[string]*model.APIKey{}}
			if tt.key != nil {
				tt.key.ApplicationID = app.ID
				keyRepo.keys[HashAPIKey(raw)] = tt.key
			}
			svc := newTestService(t, keyRepo, app, model.PlanFree)

			verification, err := svc.VerifyAPIKey(context.Background(), tt.lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, verification.Valid)
			assert.Equal(t, tt.reason, verification.Reason)
			if tt.valid {
				assert.Equal(t, app, verification.Application)
			}
		})
	}
}

func TestRegenerateAPIKeyPreservesAttributes(t *testing.T) {
	app := newTestApp()
	exp := time.Now().Add(24 * time.Hour)
	old := &model.APIKey{
		ApplicationID: app.ID,
		Name:          "ci",
		Environment:   model.KeyEnvironmentTest,
		ExpiresAt:     &exp,
	}
	old.ID = uuid.New()
	keyRepo := &fakeKeyRepo{byID: map[uuid.UUID]*model.APIKey{old.ID: old}}
	svc := newTestService(t, keyRepo, app, model.PlanBasic)

	created, err := svc.RegenerateAPIKey(context.Background(), old.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, "ci", created.Name)
	assert.Equal(t, model.KeyEnvironmentTest, created.Environment)
	assert.Equal(t, &exp, created.ExpiresAt)
	assert.True(t, strings.HasPrefix(created.RawKey, "dk_test_"))
	assert.NotNil(t, old.RevokedAt, "old key must be revoked")

	active := 0
	for _, k := range keyRepo.byID {
		if k.RevokedAt == nil {
			active++
		}
	}
	assert.Equal(t, 1, active, "exactly one non-revoked key must remain")
}

func TestRegenerateAPIKeyUnknownID(t *testing.T) {
	keyRepo := &fakeKeyRepo{byID: map[uuid.UUID]*model.APIKey{}}
	svc := newTestService(t, keyRepo, newTestApp(), model.PlanBasic)

	_, err := svc.RegenerateAPIKey(context.Background(), uuid.New(), nil)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrNotFound, appErr.Code)
}
