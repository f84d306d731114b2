package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUserNotFound indicates no identity exists for the given key.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidEmail indicates an email that cannot resolve to an account.
	ErrInvalidEmail = errors.New("users: invalid email")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves user identities for invitations and presence display.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register upserts an identity keyed by user id, refreshing profile fields.
func (s *Service) Register(ctx context.Context, identity Identity) (Identity, error) {
	identity.UserID = strings.TrimSpace(identity.UserID)
	identity.Email = NormalizeEmail(identity.Email)
	if identity.UserID == "" {
		return Identity{}, ErrUserNotFound
	}
	if identity.Email == "" || !strings.Contains(identity.Email, "@") {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidEmail, identity.Email)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "avatar_url", "updated_at"}),
		}).
		Create(&identity).Error
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// LookupByEmail resolves an email address to a registered identity.
func (s *Service) LookupByEmail(ctx context.Context, email string) (Identity, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	var identity Identity
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, normalized)
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Get resolves a user id to a registered identity.
func (s *Service) Get(ctx context.Context, userID string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}
