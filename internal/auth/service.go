package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-bikeride/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	uniqueViolation = "23505"
)

// Token kinds carried in the typ claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

var (
	ErrMissingFields       = errors.New("email, display_name, password required")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	ErrTokenKind           = errors.New("unexpected token type")
)

type Service struct {
	secret []byte
	db     db.Querier
}

type Claims struct {
	UserID string `json:"user_id"`
	Kind   string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	signTokenFn       = (*Service).signToken
	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims
)

func NewService(secret string, q db.Querier) *Service {
	return &Service{
		secret: []byte(secret),
		db:     q,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (Rider, TokenResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.DisplayName == "" || req.Password == "" {
		return Rider{}, TokenResponse{}, ErrMissingFields
	}
	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Rider{}, TokenResponse{}, err
	}

	rider := Rider{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO riders (id, email, display_name, password_hash)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at
	`, rider.ID, rider.Email, rider.DisplayName, rider.PasswordHash)
	if err := row.Scan(&rider.CreatedAt, &rider.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Rider{}, TokenResponse{}, ErrEmailTaken
		}
		return Rider{}, TokenResponse{}, fmt.Errorf("insert rider: %w", err)
	}

	tokens, err := s.GenerateTokens(ctx, rider.ID)
	if err != nil {
		return Rider{}, TokenResponse{}, err
	}
	return rider, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (Rider, TokenResponse, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM riders WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(req.Email)))

	var rider Rider
	if err := row.Scan(&rider.ID, &rider.Email, &rider.DisplayName, &rider.PasswordHash, &rider.CreatedAt, &rider.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rider{}, TokenResponse{}, ErrInvalidCredentials
		}
		return Rider{}, TokenResponse{}, fmt.Errorf("lookup rider: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rider.PasswordHash), []byte(req.Password)); err != nil {
		return Rider{}, TokenResponse{}, ErrInvalidCredentials
	}

	tokens, err := s.GenerateTokens(ctx, rider.ID)
	if err != nil {
		return Rider{}, TokenResponse{}, err
	}
	return rider, tokens, nil
}

func (s *Service) GenerateTokens(ctx context.Context, riderID string) (TokenResponse, error) {
	access, err := signTokenFn(s, riderID, TokenAccess, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := signTokenFn(s, riderID, TokenRefresh, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, riderID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

// ConsumeRefreshToken revokes a live refresh token and returns its rider. The
// revoke and the liveness check are one statement, so a token can be
// consumed at most once.
func (s *Service) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil || claims.Kind != TokenRefresh {
		return "", ErrRefreshTokenInvalid
	}

	row := s.db.QueryRow(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > now()
		RETURNING rider_id
	`, token)
	var riderID string
	if err := row.Scan(&riderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRefreshTokenInvalid
		}
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	if riderID != claims.UserID {
		return "", ErrRefreshTokenInvalid
	}
	return riderID, nil
}

// RevokeRefreshToken marks a refresh token as used up. Revoking an unknown or
// already revoked token is not an error.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	if claims.Kind != TokenAccess {
		return "", ErrTokenKind
	}
	return claims.UserID, nil
}

func (s *Service) signToken(riderID, kind string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: riderID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, riderID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, rider_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), riderID, token, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}
