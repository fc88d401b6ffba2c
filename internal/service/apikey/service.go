package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	apperrors "github.com/docskit/tenant-api/pkg/errors"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
	"github.com/docskit/tenant-api/pkg/task"
)

const (
	keyPrefix       = "dk"
	keySecretLength = 32
	keyDisplayLen   = 16
	// Collision retries are a safety net, not an expected path; the
	// keyspace is 62^32.
	maxGenerationAttempts = 3
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

type Service struct {
	keyRepo repository.APIKeyRepository
	appRepo repository.ApplicationRepository
	orgRepo repository.OrganizationRepository
	tasks   *task.Runner
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(
	keyRepo repository.APIKeyRepository,
	appRepo repository.ApplicationRepository,
	orgRepo repository.OrganizationRepository,
	tasks *task.Runner,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		keyRepo: keyRepo,
		appRepo: appRepo,
		orgRepo: orgRepo,
		tasks:   tasks,
		logger:  logger,
		metrics: metrics,
	}
}

// GenerateRawKey returns a fresh secret of the form dk_<env>_<32 base62>.
// Randomness comes from crypto/rand; a PRNG is not acceptable for secret
// material.
func GenerateRawKey(environment model.KeyEnvironment) (string, error) {
	secret := make([]byte, keySecretLength)
	// Rejection sampling keeps the base62 distribution uniform.
	max := byte(len(base62Alphabet)) * (255 / byte(len(base62Alphabet)))
	buf := make([]byte, 1)
	for i := 0; i < keySecretLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if buf[0] >= max {
			continue
		}
		secret[i] = base62Alphabet[int(buf[0])%len(base62Alphabet)]
		i++
	}
	return fmt.Sprintf("%s_%s_%s", keyPrefix, environment, string(secret)), nil
}

// HashAPIKey is the deterministic one-way digest used both to store and to
// look up keys. The raw key never touches storage or logs.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey issues a key for the application under the owning
// organization's plan quota. The raw key is returned exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, applicationID uuid.UUID, req *model.CreateAPIKeyRequest) (*model.CreatedAPIKey, error) {
	app, err := s.appRepo.Get(ctx, applicationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("application", err)
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}

	org, err := s.orgRepo.Get(ctx, app.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	environment := req.Environment
	if environment == "" {
		environment = model.KeyEnvironmentLive
	}
	name := req.Name
	if name == "" {
		name = "default"
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		raw, err := GenerateRawKey(environment)
		if err != nil {
			return nil, apperrors.GenerationFailure(err)
		}

		key := &model.APIKey{
			ApplicationID: applicationID,
			Name:          name,
			KeyHash:       HashAPIKey(raw),
			KeyPrefix:     raw[:keyDisplayLen],
			Environment:   environment,
			ExpiresAt:     req.ExpiresAt,
		}

		err = s.keyRepo.CreateWithQuota(ctx, key, org.Plan.MaxAPIKeys())
		if errors.Is(err, repository.ErrDuplicateKeyHash) {
			continue
		}
		if errors.Is(err, repository.ErrKeyQuotaExceeded) {
			return nil, apperrors.QuotaExceeded(fmt.Sprintf(
				"api key limit reached (%d keys on the %s plan)", org.Plan.MaxAPIKeys(), org.Plan))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create api key: %w", err)
		}

		s.metrics.KeysIssued.Inc()
		return &model.CreatedAPIKey{APIKey: key, RawKey: raw}, nil
	}

	err = fmt.Errorf("exhausted %d key generation attempts", maxGenerationAttempts)
	s.logger.Error(err, "API key hash collisions exhausted retries", "application_id", applicationID.String())
	return nil, apperrors.GenerationFailure(err)
}

// VerifyAPIKey checks a presented raw key: one hash lookup joined with the
// owning application, then revocation before expiry. Validity is judged
// per request, never cached.
func (s *Service) VerifyAPIKey(ctx context.Context, rawKey string) (*model.KeyVerification, error) {
	key, app, err := s.keyRepo.GetByHash(ctx, HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.KeyVerifications.WithLabelValues(string(model.VerifyReasonNotFound)).Inc()
			return &model.KeyVerification{Valid: false, Reason: model.VerifyReasonNotFound}, nil
		}
		return nil, fmt.Errorf("failed to verify api key: %w", err)
	}

	if key.RevokedAt != nil {
		s.metrics.KeyVerifications.WithLabelValues(string(model.VerifyReasonRevoked)).Inc()
		return &model.KeyVerification{Valid: false, Reason: model.VerifyReasonRevoked}, nil
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		s.metrics.KeyVerifications.WithLabelValues(string(model.VerifyReasonExpired)).Inc()
		return &model.KeyVerification{Valid: false, Reason: model.VerifyReasonExpired}, nil
	}

	s.metrics.KeyVerifications.WithLabelValues("valid").Inc()
	return &model.KeyVerification{Valid: true, APIKey: key, Application: app}, nil
}

// ValidateOrigin checks a browser Origin header against the application's
// registered domain. Absent origins are allowed (non-browser callers);
// `*.` wildcards match the bare domain and any subdomain.
func ValidateOrigin(origin, allowedDomain string) bool {
	if origin == "" {
		return true
	}
	if allowedDomain == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	allowed := strings.ToLower(allowedDomain)

	if bare, ok := strings.CutPrefix(allowed, "*."); ok {
		return host == bare || strings.HasSuffix(host, "."+bare)
	}
	return host == allowed
}

// MatchesApplication compares the key's owning application against the one
// claimed in the request header, in constant time.
func MatchesApplication(key *model.APIKey, claimed uuid.UUID) bool {
	return subtle.ConstantTimeCompare([]byte(key.ApplicationID.String()), []byte(claimed.String())) == 1
}

func (s *Service) ListAPIKeys(ctx context.Context, applicationID uuid.UUID) ([]*model.APIKey, error) {
	return s.keyRepo.List(ctx, applicationID)
}

func (s *Service) CreateApplication(ctx context.Context, app *model.Application) error {
	if err := s.appRepo.Create(ctx, app); err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (s *Service) GetApplication(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	app, err := s.appRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("application", err)
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	return app, nil
}

func (s *Service) ListApplications(ctx context.Context, organizationID uuid.UUID) ([]*model.Application, error) {
	return s.appRepo.ListByOrganization(ctx, organizationID)
}

// GetAPIKey loads a key together with its owning application so callers
// can enforce tenant scope.
func (s *Service) GetAPIKey(ctx context.Context, id uuid.UUID) (*model.APIKey, *model.Application, error) {
	key, err := s.keyRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperrors.NewNotFound("api key", err)
		}
		return nil, nil, fmt.Errorf("failed to load api key: %w", err)
	}
	app, err := s.appRepo.Get(ctx, key.ApplicationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load application: %w", err)
	}
	return key, app, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, id uuid.UUID) (bool, error) {
	revoked, err := s.keyRepo.Revoke(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	if revoked {
		s.metrics.KeysRevoked.Inc()
	}
	return revoked, nil
}

// RegenerateAPIKey revokes the old key and issues its replacement in one
// transaction, preserving name, environment, and expiry unless overridden.
func (s *Service) RegenerateAPIKey(ctx context.Context, id uuid.UUID, overrides *model.CreateAPIKeyRequest) (*model.CreatedAPIKey, error) {
	old, err := s.keyRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("api key", err)
		}
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}

	name := old.Name
	environment := old.Environment
	expiresAt := old.ExpiresAt
	if overrides != nil {
		if overrides.Name != "" {
			name = overrides.Name
		}
		if overrides.Environment != "" {
			environment = overrides.Environment
		}
		if overrides.ExpiresAt != nil {
			expiresAt = overrides.ExpiresAt
		}
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		raw, err := GenerateRawKey(environment)
		if err != nil {
			return nil, apperrors.GenerationFailure(err)
		}

		replacement := &model.APIKey{
			ApplicationID: old.ApplicationID,
			Name:          name,
			KeyHash:       HashAPIKey(raw),
			KeyPrefix:     raw[:keyDisplayLen],
			Environment:   environment,
			ExpiresAt:     expiresAt,
		}

		err = s.keyRepo.Regenerate(ctx, id, replacement)
		if errors.Is(err, repository.ErrDuplicateKeyHash) {
			continue
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("api key", err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to regenerate api key: %w", err)
		}

		s.metrics.KeysIssued.Inc()
		s.metrics.KeysRevoked.Inc()
		return &model.CreatedAPIKey{APIKey: replacement, RawKey: raw}, nil
	}

	err = fmt.Errorf("exhausted %d key generation attempts", maxGenerationAttempts)
	s.logger.Error(err, "API key hash collisions exhausted retries", "api_key_id", id.String())
	return nil, apperrors.GenerationFailure(err)
}

// TouchLastUsed records key usage off the request path. The update is
// fire-and-forget: a full queue or a failed write is logged and counted,
// never surfaced.
func (s *Service) TouchLastUsed(id uuid.UUID) {
	s.tasks.Enqueue(task.Task{
		Name: "apikey.touch_last_used",
		Run: func(ctx context.Context) error {
			return s.keyRepo.TouchLastUsed(ctx, id)
		},
	})
}
