package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/cyberguard/internal/models"
	"gorm.io/gorm"
)

// Identity is the verified user attached to a connection or request.
type Identity struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullname"`
}

// Placeholder is the synthetic identity used when development auth mode lets
// an unauthenticated client through. Every placeholder connection shares
// user ID 0, so anonymous clients see and can rename or delete each other's
// sessions. Never enable development mode on a shared deployment.
var Placeholder = Identity{ID: 0, Email: "anonymous@localhost", FullName: "Anonymous (dev)"}

func (i Identity) IsPlaceholder() bool { return i.ID == 0 }

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// JWTAuthenticator verifies a bearer JWT and resolves its user row.
type JWTAuthenticator struct {
	db     *gorm.DB
	secret string
}

func NewJWTAuthenticator(db *gorm.DB, secret string) *JWTAuthenticator {
	return &JWTAuthenticator{db: db, secret: secret}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = StripBearer(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	uid, err := ParseJWT(token, a.secret)
	if err != nil {
		return Identity{}, err
	}
	var u models.User
	if err := a.db.WithContext(ctx).First(&u, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	name := u.FullName
	if name == "" {
		name = u.Email
	}
	return Identity{ID: u.ID, Email: u.Email, FullName: name}, nil
}

// StripBearer removes an optional "Bearer " prefix.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
