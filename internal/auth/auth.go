// Package auth authenticates connections: bcrypt credential checks on
// login/signup and signed JWTs for session resume.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
	"github.com/Cunha-Renato/yapping-server/internal/store"
)

var (
	// ErrInvalidCredentials covers a bad email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is returned when signing up an email already in use.
	ErrAccountExists = errors.New("account already exists")
	// ErrIncomplete is returned when signup input is missing fields.
	ErrIncomplete = errors.New("please fill all the fields")
	// ErrBadToken covers expired or forged resume tokens.
	ErrBadToken = errors.New("invalid session token")
)

const tokenLifetime = 24 * time.Hour

// Service issues and checks identities.
type Service struct {
	store  *store.Store
	secret []byte
}

// NewService creates an auth service over the user store.
func NewService(st *store.Store, secret string) *Service {
	return &Service{store: st, secret: []byte(secret)}
}

type sessionClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// Login checks credentials and returns the full profile plus a resume
// token.
func (s *Service) Login(ctx context.Context, creds proto.Credentials) (proto.User, string, error) {
	u, hash, err := s.store.UserByEmail(ctx, creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		return proto.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return proto.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		return proto.User{}, "", ErrInvalidCredentials
	}

	profile, err := s.store.FetchProfile(ctx, u.ID)
	if err != nil {
		return proto.User{}, "", err
	}
	token, err := s.issueToken(profile.ID)
	return profile, token, err
}

// SignUp creates an account and returns the profile plus a resume token.
func (s *Service) SignUp(ctx context.Context, creds proto.Credentials) (proto.User, string, error) {
	if creds.Tag == "" || creds.Email == "" || creds.Password == "" {
		return proto.User{}, "", ErrIncomplete
	}
	if _, _, err := s.store.UserByEmail(ctx, creds.Email); err == nil {
		return proto.User{}, "", ErrAccountExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return proto.User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return proto.User{}, "", err
	}

	u := proto.User{ID: uuid.New(), Tag: creds.Tag, Email: creds.Email}
	if err := s.store.CreateUser(ctx, u, string(hash)); err != nil {
		return proto.User{}, "", err
	}
	token, err := s.issueToken(u.ID)
	return u, token, err
}

// Resume validates a token and returns the bound profile with a refreshed
// token.
func (s *Service) Resume(ctx context.Context, tokenString string) (proto.User, string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.UserID == uuid.Nil {
		return proto.User{}, "", ErrBadToken
	}

	profile, err := s.store.FetchProfile(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return proto.User{}, "", ErrBadToken
	}
	if err != nil {
		return proto.User{}, "", err
	}
	fresh, err := s.issueToken(profile.ID)
	return profile, fresh, err
}

func (s *Service) issueToken(id uuid.UUID) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "yapping-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
