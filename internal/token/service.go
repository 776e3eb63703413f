// Package token issues, verifies, refreshes and revokes bearer credentials.
//
// Access tokens are stateless: signature plus expiry is the whole check.
// Refresh tokens must additionally exist in the credential store, which is
// what makes revocation possible.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
)

// Failure kinds surfaced to callers. Handlers map these to stable wire codes.
var (
	ErrExpired         = errors.New("token: expired")
	ErrInvalid         = errors.New("token: invalid")
	ErrRevoked         = errors.New("token: revoked")
	ErrAccountInactive = errors.New("token: account inactive")
)

// Pair is one access/refresh credential pair.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Service signs and checks bearer tokens against the configured secrets.
type Service struct {
	store store.Store
	cfg   config.TokenConfig
	log   *zap.Logger
}

// NewService returns a token service bound to the given store.
func NewService(s store.Store, cfg config.TokenConfig, log *zap.Logger) *Service {
	return &Service{store: s, cfg: cfg, log: log}
}

// Issue returns a fresh token pair for the account and persists the refresh
// side. Existing refresh tokens stay valid; each login session gets its own.
func (s *Service) Issue(ctx context.Context, account *models.Account) (*Pair, error) {
	now := time.Now().UTC()

	access, err := s.signAccess(account.ID, now)
	if err != nil {
		return nil, fmt.Errorf("token: failed to sign access token: %w", err)
	}

	jti := uuid.New()
	expiresAt := now.Add(s.cfg.RefreshTTL)
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   account.ID.String(),
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("token: failed to sign refresh token: %w", err)
	}

	err = s.store.CreateRefreshToken(ctx, &models.RefreshToken{
		ID:        jti,
		AccountID: account.ID,
		TokenHash: hashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("token: failed to persist refresh token: %w", err)
	}

	s.log.Info("token pair issued",
		zap.String("account_id", account.ID.String()),
		zap.String("jti", jti.String()))
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks signature and expiry only; no store lookup. A revoked
// access token therefore stays honorable until its short expiry elapses.
func (s *Service) VerifyAccess(tokenString string) (uuid.UUID, error) {
	claims, err := s.parse(tokenString, s.cfg.AccessSecret)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalid
	}
	return id, nil
}

// Refresh exchanges a refresh token for a new access token. Signature
// validity alone is insufficient: a matching unexpired credential record
// must exist, and the account must still be active.
func (s *Service) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.parse(tokenString, s.cfg.RefreshSecret)
	if err != nil {
		return "", err
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return "", ErrInvalid
	}

	record, err := s.store.RefreshTokenByID(ctx, jti)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrRevoked
	}
	if err != nil {
		return "", err
	}
	if record.TokenHash != hashToken(tokenString) {
		return "", ErrInvalid
	}

	now := time.Now().UTC()
	if record.IsExpired(now) {
		return "", ErrExpired
	}

	account, err := s.store.AccountByID(ctx, record.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrRevoked
	}
	if err != nil {
		return "", err
	}
	if !account.IsActive() {
		return "", ErrAccountInactive
	}

	return s.signAccess(account.ID, now)
}

// Revoke deletes the credential record behind one refresh token and reports
// how many records that removed: zero when the token was already gone or is
// owned by a different account.
func (s *Service) Revoke(ctx context.Context, accountID uuid.UUID, tokenString string) (int64, error) {
	claims, err := s.parse(tokenString, s.cfg.RefreshSecret)
	if err != nil && !errors.Is(err, ErrExpired) {
		// Expired tokens may still be revoked; anything else is garbage.
		return 0, ErrInvalid
	}
	jti, parseErr := uuid.Parse(claims.ID)
	if parseErr != nil {
		return 0, ErrInvalid
	}
	n, err := s.store.DeleteRefreshToken(ctx, accountID, jti)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("refresh token revoked",
			zap.String("account_id", accountID.String()),
			zap.String("jti", jti.String()))
	}
	return n, nil
}

// RevokeAll deletes every refresh token the account owns. Idempotent: a
// second call revokes zero tokens and succeeds.
func (s *Service) RevokeAll(ctx context.Context, accountID uuid.UUID) (int64, error) {
	n, err := s.store.DeleteAccountRefreshTokens(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("all refresh tokens revoked",
			zap.String("account_id", accountID.String()),
			zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) signAccess(accountID uuid.UUID, now time.Time) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
	}).SignedString([]byte(s.cfg.AccessSecret))
}

// parse verifies signature and registered-claim validity with the given
// secret, keeping expiry distinguishable from every other defect.
func (s *Service) parse(tokenString, secret string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, ErrExpired
	default:
		return claims, ErrInvalid
	}
}

func hashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
