// Package service contains application services for authentication and sync.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/avkdev/lingsync/internal/crypto"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/limiter"
	"github.com/avkdev/lingsync/internal/model"
	"github.com/avkdev/lingsync/internal/repository"
)

// AuthService defines authentication and session-lifecycle operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP applies rate-limiting, authenticates, and issues tokens.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// Refresh rotates a refresh token and issues a new access token.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout revokes the presented refresh token.
	Logout(ctx context.Context, refreshToken string) error
	// CreateLanguage enrolls the user in a course and makes it current.
	CreateLanguage(ctx context.Context, userID uuid.UUID, lang model.LanguageProgress) (int64, error)
}

type AuthServiceImpl struct {
	users      repository.UserRepository
	tokens     repository.TokenRepository
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	lim        limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens repository.TokenRepository, signKey []byte, accessTTL, refreshTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:      users,
		tokens:     tokens,
		signKey:    signKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		lim:        lim,
	}
}

// Register creates a new user record with a per-user salt and its initial
// progress row.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("empty username/password: %w", errs.ErrValidation)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// hide user existence on wrong password
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	tokens, err := s.issueTokens(ctx, u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tokens, *u, nil
}

// Refresh validates and rotates the refresh token. An unknown or expired
// token maps to errs.ErrUnauthorized, ending the session client-side.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	if refreshToken == "" {
		return model.Tokens{}, fmt.Errorf("missing refresh token: %w", errs.ErrValidation)
	}
	hash := pkgcrypto.HashToken(refreshToken)
	row, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnauthorized
		}
		return model.Tokens{}, err
	}
	if time.Now().After(row.ExpiresAt) {
		_ = s.tokens.DeleteByHash(ctx, hash)
		return model.Tokens{}, errs.ErrUnauthorized
	}

	// rotation: the presented token is spent either way
	if err := s.tokens.DeleteByHash(ctx, hash); err != nil {
		return model.Tokens{}, err
	}
	return s.issueTokens(ctx, row.UserID)
}

// Logout revokes the presented refresh token. A missing row is fine.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.DeleteByHash(ctx, pkgcrypto.HashToken(refreshToken))
}

// CreateLanguage validates and creates a course for the user.
func (s *AuthServiceImpl) CreateLanguage(ctx context.Context, userID uuid.UUID, lang model.LanguageProgress) (int64, error) {
	if userID == uuid.Nil {
		return 0, fmt.Errorf("empty userID: %w", errs.ErrValidation)
	}
	if !model.ValidProficiency(lang.ProficiencyLevel) {
		return 0, fmt.Errorf("bad proficiency level %q: %w", lang.ProficiencyLevel, errs.ErrValidation)
	}
	if lang.NativeLanguageID <= 0 || lang.LearningLanguageID <= 0 {
		return 0, fmt.Errorf("bad language ids: %w", errs.ErrValidation)
	}
	return s.users.CreateLanguage(ctx, userID, lang)
}

// issueTokens creates a signed HS256 access JWT plus a stored opaque refresh
// token for the given subject.
func (s *AuthServiceImpl) issueTokens(ctx context.Context, userID uuid.UUID) (model.Tokens, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}

	refresh, err := pkgcrypto.NewOpaqueToken()
	if err != nil {
		return model.Tokens{}, err
	}
	rid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	if err := s.tokens.Save(ctx, &model.RefreshToken{
		ID:        rid,
		UserID:    userID,
		TokenHash: pkgcrypto.HashToken(refresh),
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return model.Tokens{}, err
	}

	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}
