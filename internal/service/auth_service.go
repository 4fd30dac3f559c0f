package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

const tokenTypeBearer = "Bearer"

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
	RevokeTokenFamily(ctx context.Context, familyID string, at time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines token lifetimes and signing.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

// AuthService registers accounts and issues, rotates and validates tokens.
type AuthService struct {
	repo      authUserRepository
	validator *validator.Validate
	config    AuthConfig
	workflowDeps
}

// NewAuthService constructs an AuthService. Auth events go to the repository's audit log
// unless an option overrides it.
func NewAuthService(repo authUserRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...WorkflowOption) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	var audit auditLogger
	if repo != nil {
		audit = repo
	}
	deps := newWorkflowDeps(logger, append([]WorkflowOption{WithAuditLogger(audit)}, opts...))
	return &AuthService{repo: repo, validator: validate, config: config, workflowDeps: deps}
}

// Register creates a USER account and signs it in.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta RequestMeta) (*models.Session, error) {
	req.Email = normaliseEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, internalError(err, "failed to create user")
	}

	s.recordAudit(ctx, actorOf(user), meta, models.AuditActionRegister, "auth", user.ID, nil, user.Info())
	return s.issueSession(ctx, user, "", meta)
}

// Login checks credentials and starts a new refresh token family.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta RequestMeta) (*models.Session, error) {
	req.Email = normaliseEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, internalError(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	session, err := s.issueSession(ctx, user, "", meta)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to touch last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.recordAudit(ctx, actorOf(user), meta, models.AuditActionLogin, "auth", user.ID, nil, nil)
	return session, nil
}

// Refresh rotates a refresh token. Presenting a token that was already rotated or revoked
// revokes its whole family, ending every session derived from that login.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest, meta RequestMeta) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.repo.FindRefreshToken(ctx, models.HashRefreshToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not recognised")
		}
		return nil, internalError(err, "failed to fetch refresh token")
	}

	now := s.now()
	if stored.RevokedAt != nil {
		return nil, s.reuseDetected(ctx, stored, meta)
	}
	if !stored.Usable(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token expired")
	}

	user, err := s.repo.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, internalError(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	if err := s.repo.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reuseDetected(ctx, stored, meta)
		}
		return nil, internalError(err, "failed to rotate refresh token")
	}
	return s.issueSession(ctx, user, stored.FamilyID, meta)
}

// Logout ends the caller's session family. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, actor models.Actor, req models.RefreshRequest, meta RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "refresh token required")
	}

	stored, err := s.repo.FindRefreshToken(ctx, models.HashRefreshToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not recognised")
		}
		return internalError(err, "failed to load refresh token")
	}
	if stored.UserID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to caller")
	}

	if err := s.repo.RevokeTokenFamily(ctx, stored.FamilyID, s.now()); err != nil {
		return internalError(err, "failed to revoke session")
	}
	s.recordAudit(ctx, actor, meta, models.AuditActionLogout, "auth", actor.ID, nil, nil)
	return nil
}

// Me returns the caller's current profile.
func (s *AuthService) Me(ctx context.Context, actor models.Actor) (*models.UserInfo, error) {
	if actor.Anonymous() {
		return nil, appErrors.ErrUnauthorized
	}
	user, err := s.repo.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, notFound(err, "user", "failed to load user")
	}
	info := user.Info()
	return &info, nil
}

// ValidateToken parses an HS256 access token and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, parserOpts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, stored *models.RefreshToken, meta RequestMeta) error {
	if err := s.repo.RevokeTokenFamily(ctx, stored.FamilyID, s.now()); err != nil {
		s.logger.Error("failed to revoke token family after reuse", zap.String("family_id", stored.FamilyID), zap.Error(err))
	}
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", stored.UserID),
		zap.String("family_id", stored.FamilyID),
		zap.String("ip", meta.IP))
	s.recordAudit(ctx, models.Actor{ID: stored.UserID}, meta, models.AuditActionTokenReuse, "auth", stored.UserID, nil,
		map[string]string{"family_id": stored.FamilyID})
	return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token already used")
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, familyID string, meta RequestMeta) (*models.Session, error) {
	accessToken, expiresAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, internalError(err, "failed to create access token")
	}
	raw, err := newRefreshTokenValue()
	if err != nil {
		return nil, internalError(err, "failed to create refresh token")
	}

	now := s.now()
	record := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		FamilyID:  familyID,
		TokenHash: models.HashRefreshToken(raw),
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if record.FamilyID == "" {
		record.FamilyID = record.ID
	}
	if err := s.repo.CreateRefreshToken(ctx, record); err != nil {
		return nil, internalError(err, "failed to persist refresh token")
	}

	return &models.Session{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		ExpiresAt:    expiresAt,
		User:         user.Info(),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func newRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func actorOf(user *models.User) models.Actor {
	return models.Actor{ID: user.ID, Email: user.Email, Role: user.Role}
}
