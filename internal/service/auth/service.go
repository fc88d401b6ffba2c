package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/email"
	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/policy"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/auth"
	apperrors "github.com/docskit/tenant-api/pkg/errors"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/security"
	"github.com/docskit/tenant-api/pkg/task"
)

const otpLength = 6

// SignupResult tells the caller whether a new signup was created or an
// existing pending one got its code resent.
type SignupResult struct {
	UserID      uuid.UUID `json:"user_id"`
	OTPResent   bool      `json:"otp_resent"`
	RequiresOTP bool      `json:"requires_otp"`
}

type Service struct {
	userRepo       repository.UserRepository
	orgRepo        repository.OrganizationRepository
	membershipRepo repository.MembershipRepository
	tokenRepo      repository.TokenRepository
	hasher         security.PasswordHasher
	jwtService     auth.JWTService
	emailService   email.Service
	tasks          *task.Runner
	logger         *logger.Logger
	pendingTTL     time.Duration
}

func NewService(
	userRepo repository.UserRepository,
	orgRepo repository.OrganizationRepository,
	membershipRepo repository.MembershipRepository,
	tokenRepo repository.TokenRepository,
	hasher security.PasswordHasher,
	jwtService auth.JWTService,
	emailService email.Service,
	tasks *task.Runner,
	logger *logger.Logger,
	pendingTTL time.Duration,
) *Service {
	return &Service{
		userRepo:       userRepo,
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		tokenRepo:      tokenRepo,
		hasher:         hasher,
		jwtService:     jwtService,
		emailService:   emailService,
		tasks:          tasks,
		logger:         logger,
		pendingTTL:     pendingTTL,
	}
}

// Signup registers a user and their organization. What an attempt against
// an already-used email may do is decided by the lifecycle policy, never
// here.
func (s *Service) Signup(ctx context.Context, req *model.SignupRequest) (*SignupResult, error) {
	existing, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	now := time.Now()
	switch policy.ResolveSignupAction(existing, now) {
	case policy.SignupReject:
		return nil, apperrors.PolicyRejection("an account with this email already exists")

	case policy.SignupResendOTP:
		if err := s.issueVerification(ctx, existing.ID, existing.Email); err != nil {
			return nil, err
		}
		return &SignupResult{UserID: existing.ID, OTPResent: true, RequiresOTP: true}, nil

	case policy.SignupAllowNew:
		return s.createSignup(ctx, req, existing, now)

	default:
		return nil, apperrors.PolicyRejection("signup is not possible for this email")
	}
}

func (s *Service) createSignup(ctx context.Context, req *model.SignupRequest, stale *model.User, now time.Time) (*SignupResult, error) {
	slugHolder, err := s.orgRepo.GetBySlug(ctx, req.OrganizationSlug)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up slug: %w", err)
	}
	if !policy.CanReuseOrganizationSlug(slugHolder) {
		return nil, apperrors.PolicyRejection("organization slug is already taken")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperrors.NewBadRequest("invalid password", err)
	}

	// Abandoned identities holding the email or slug give way to the new
	// registration.
	if stale != nil {
		if err := s.userRepo.Delete(ctx, stale.ID); err != nil {
			return nil, fmt.Errorf("failed to clear stale signup: %w", err)
		}
	}
	if slugHolder != nil {
		if err := s.orgRepo.Delete(ctx, slugHolder.ID); err != nil {
			return nil, fmt.Errorf("failed to clear stale organization: %w", err)
		}
	}

	pendingExpiry := now.Add(s.pendingTTL)
	user := &model.User{
		Email:            req.Email,
		Name:             req.Name,
		PasswordHash:     hash,
		Status:           model.UserStatusPendingVerification,
		PendingExpiresAt: &pendingExpiry,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	org := &model.Organization{
		Name:   req.OrganizationName,
		Slug:   req.OrganizationSlug,
		Status: model.UserStatusPendingVerification,
		Plan:   model.PlanFree,
	}
	if err := s.orgRepo.Create(ctx, org); err != nil {
		if errors.Is(err, repository.ErrSlugTaken) {
			return nil, apperrors.PolicyRejection("organization slug is already taken")
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	membership := &model.Membership{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           model.RoleSuperAdmin,
	}
	if err := s.membershipRepo.Create(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	if err := s.issueVerification(ctx, user.ID, user.Email); err != nil {
		return nil, err
	}

	return &SignupResult{UserID: user.ID, RequiresOTP: true}, nil
}

// Login checks credentials, then lets the lifecycle policy decide whether
// the account state permits a session. A deleted account is reported
// exactly like a wrong password.
func (s *Service) Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.AuthFailure(policy.StatusMessage(policy.LoginRejectInvalidCredentials))
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, apperrors.AuthFailure(policy.StatusMessage(policy.LoginRejectInvalidCredentials))
	}

	outcome := policy.ResolveLoginOutcome(user)
	switch outcome {
	case policy.LoginAllow:
	case policy.LoginRejectInvalidCredentials:
		return nil, apperrors.AuthFailure(policy.StatusMessage(outcome))
	default:
		return nil, apperrors.PolicyRejection(policy.StatusMessage(outcome))
	}

	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	userID := user.ID
	s.tasks.Enqueue(task.Task{
		Name: "auth.touch_last_login",
		Run: func(ctx context.Context) error {
			u, err := s.userRepo.Get(ctx, userID)
			if err != nil {
				return err
			}
			now := time.Now()
			u.LastLoginAt = &now
			return s.userRepo.Update(ctx, u)
		},
	})

	return &model.TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Verify consumes a verification code and activates the user and every
// organization they own.
func (s *Service) Verify(ctx context.Context, token string) error {
	userID, err := s.tokenRepo.ValidateVerificationToken(ctx, token)
	if err != nil {
		return apperrors.PolicyRejection("invalid or expired verification code")
	}

	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !policy.AwaitingVerification(user) {
		return apperrors.PolicyRejection("account is not awaiting verification")
	}

	if err := s.userRepo.MarkVerified(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}

	memberships, err := s.membershipRepo.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range memberships {
		if m.Role != model.RoleSuperAdmin {
			continue
		}
		if err := s.orgRepo.UpdateStatus(ctx, m.OrganizationID, model.UserStatusActive); err != nil {
			return fmt.Errorf("failed to activate organization: %w", err)
		}
	}

	if err := s.tokenRepo.InvalidateVerificationToken(ctx, token); err != nil {
		s.logger.Error(err, "failed to invalidate verification token", "user_id", userID.String())
	}

	userEmail, userName := user.Email, user.Name
	s.tasks.Enqueue(task.Task{
		Name: "email.welcome",
		Run: func(ctx context.Context) error {
			return s.emailService.SendWelcome(ctx, userEmail, userName)
		},
	})

	return nil
}

// ResendVerification reissues the code for a pending signup. Anything else
// gets the same generic rejection, so account states stay unobservable.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	user, err := s.userRepo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.PolicyRejection("no pending signup for this email")
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if policy.ResolveSignupAction(user, time.Now()) != policy.SignupResendOTP {
		return apperrors.PolicyRejection("no pending signup for this email")
	}

	return s.issueVerification(ctx, user.ID, user.Email)
}

// Refresh exchanges a valid refresh token for a new session pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}

	user, err := s.userRepo.Get(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}
	if policy.ResolveLoginOutcome(user) != policy.LoginAllow {
		return nil, apperrors.Unauthorized(errors.New("account is not active"))
	}

	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	newRefresh, err := s.jwtService.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &model.TokenResponse{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

func (s *Service) issueVerification(ctx context.Context, userID uuid.UUID, emailAddr string) error {
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}

	if err := s.tokenRepo.StoreVerificationToken(ctx, userID, code, time.Now().Add(s.pendingTTL)); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	s.tasks.Enqueue(task.Task{
		Name: "email.verification",
		Run: func(ctx context.Context) error {
			return s.emailService.SendVerification(ctx, emailAddr, code)
		},
	})
	return nil
}

func generateOTP() (string, error) {
	code := make([]byte, otpLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
