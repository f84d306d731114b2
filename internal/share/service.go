package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound indicates no link exists for the given token or id.
	ErrLinkNotFound = errors.New("share: link not found")
	// ErrLinkExpired indicates the link's deadline has passed.
	ErrLinkExpired = errors.New("share: link expired")
	// ErrLinkRevoked indicates the link was explicitly deactivated.
	ErrLinkRevoked = errors.New("share: link revoked")
	// ErrLinkQuotaExhausted indicates every access slot has been consumed.
	ErrLinkQuotaExhausted = errors.New("share: link quota exhausted")
	// ErrValidation indicates malformed link parameters.
	ErrValidation = errors.New("share: validation failed")

	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingTokenSource = errors.New("token source is required")
	errMissingRoster      = errors.New("collaborator roster is required")
	errMissingRecorder    = errors.New("audit recorder is required")
	noOpLogger            = zap.NewNop()
)

// IDProvider issues identifiers for new links.
type IDProvider interface {
	NewID() (string, error)
}

// Roster resolves a user's effective permission level on a project.
type Roster interface {
	LevelFor(ctx context.Context, projectID, userID string) (access.Level, error)
}

// ServiceConfig describes the dependencies of the share link manager.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	TokenSource TokenSource
	Roster      Roster
	Events      *audit.Recorder
	Logger      *zap.Logger
}

// Service issues, resolves, and revokes share links.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  IDProvider
	tokenSource TokenSource
	roster      Roster
	events      *audit.Recorder
	logger      *zap.Logger
}

// NewService constructs the share link manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.TokenSource == nil {
		return nil, errMissingTokenSource
	}
	if cfg.Roster == nil {
		return nil, errMissingRoster
	}
	if cfg.Events == nil {
		return nil, errMissingRecorder
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		tokenSource: cfg.TokenSource,
		roster:      cfg.Roster,
		events:      cfg.Events,
		logger:      logger,
	}, nil
}

// CreateRequest carries the parameters of a new share link.
type CreateRequest struct {
	ProjectID      string
	ActorID        string
	Level          access.Level
	MaxAccessCount int64
	ExpiresInHours int
	Domains        []string
	RequiresLogin  bool
	AllowAPIAccess bool
}

// Create issues a new link with an unguessable token.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Link, error) {
	if req.Level != access.LevelViewer && req.Level != access.LevelEditor {
		return Link{}, fmt.Errorf("%w: share links grant viewer or editor only", access.ErrInvalidLevel)
	}
	if req.MaxAccessCount < 1 {
		return Link{}, fmt.Errorf("%w: max_access_count must be at least 1", ErrValidation)
	}
	if req.ExpiresInHours < 0 {
		return Link{}, fmt.Errorf("%w: expires_in_hours must not be negative", ErrValidation)
	}
	if err := s.requireManager(ctx, req.ProjectID, req.ActorID, "create_link"); err != nil {
		return Link{}, err
	}

	linkID, err := s.idProvider.NewID()
	if err != nil {
		return Link{}, err
	}
	token, err := s.tokenSource.NewToken()
	if err != nil {
		return Link{}, err
	}

	now := s.clock().UTC()
	link := Link{
		ID:               linkID,
		ProjectID:        req.ProjectID,
		CreatedBy:        req.ActorID,
		Token:            token,
		PermissionLevel:  req.Level,
		MaxAccessCount:   req.MaxAccessCount,
		IsActive:         true,
		RequiresLogin:    req.RequiresLogin,
		AllowAPIAccess:   req.AllowAPIAccess,
		CreatedAtSeconds: now.Unix(),
	}
	if req.ExpiresInHours > 0 {
		expires := now.Add(time.Duration(req.ExpiresInHours) * time.Hour).Unix()
		link.ExpiresAtSeconds = &expires
	}
	if len(req.Domains) > 0 {
		encoded, err := json.Marshal(req.Domains)
		if err != nil {
			return Link{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		link.DomainsJSON = string(encoded)
	}

	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return Link{}, err
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: req.ProjectID,
		ActorID:   req.ActorID,
		Type:      audit.EventShareLinkCreated,
		Target:    linkID,
		Metadata: map[string]string{
			"permission_level": req.Level.String(),
			"max_access_count": fmt.Sprintf("%d", req.MaxAccessCount),
		},
	})
	return link, nil
}

// Grant is the successful result of resolving a token.
type Grant struct {
	ProjectID       string
	PermissionLevel access.Level
	RequiresLogin   bool
	AllowAPIAccess  bool
}

// Resolve exchanges a token for an access grant, consuming one access slot.
// Validity is computed at read time; the increment is a single quota-guarded
// UPDATE so racing resolutions can never exceed max_access_count.
func (s *Service) Resolve(ctx context.Context, token string) (Grant, error) {
	var link Link
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, ErrLinkNotFound
	}
	if err != nil {
		return Grant{}, err
	}

	now := s.clock().UTC()
	if !link.IsActive {
		return Grant{}, ErrLinkRevoked
	}
	if link.Expired(now) {
		return Grant{}, ErrLinkExpired
	}
	if link.QuotaExhausted() {
		return Grant{}, ErrLinkQuotaExhausted
	}

	var affected int64
	incrementErr := database.WithRetry(ctx, func() error {
		result := s.db.WithContext(ctx).Model(&Link{}).
			Where("id = ? AND is_active = ? AND current_access_count < max_access_count", link.ID, true).
			Update("current_access_count", gorm.Expr("current_access_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if incrementErr != nil {
		return Grant{}, incrementErr
	}
	if affected == 0 {
		// Lost the race for the last slot, or the link was revoked between
		// the read and the increment.
		var current Link
		if err := s.db.WithContext(ctx).Where("id = ?", link.ID).Take(&current).Error; err != nil {
			return Grant{}, err
		}
		if !current.IsActive {
			return Grant{}, ErrLinkRevoked
		}
		return Grant{}, ErrLinkQuotaExhausted
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: link.ProjectID,
		ActorID:   "anonymous",
		Type:      audit.EventShareLinkAccessed,
		Target:    link.ID,
	})

	return Grant{
		ProjectID:       link.ProjectID,
		PermissionLevel: link.PermissionLevel,
		RequiresLogin:   link.RequiresLogin,
		AllowAPIAccess:  link.AllowAPIAccess,
	}, nil
}

// Revoke deactivates a link immediately and irreversibly. The very next
// Resolve observes the revocation.
func (s *Service) Revoke(ctx context.Context, projectID, actorID, linkID string) error {
	if err := s.requireManager(ctx, projectID, actorID, "revoke_link"); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&Link{}).
		Where("id = ? AND project_id = ?", linkID, projectID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   actorID,
		Type:      audit.EventShareLinkRevoked,
		Target:    linkID,
	})
	return nil
}

// List returns every link of a project, newest first.
func (s *Service) List(ctx context.Context, projectID, actorID string) ([]Link, error) {
	if err := s.requireManager(ctx, projectID, actorID, "list_links"); err != nil {
		return nil, err
	}

	var links []Link
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at_s DESC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (s *Service) requireManager(ctx context.Context, projectID, actorID, operation string) error {
	level, err := s.roster.LevelFor(ctx, projectID, actorID)
	if err != nil && !errors.Is(err, collab.ErrNoAccess) {
		return err
	}
	if err != nil || !access.CanManageCollaborators(level) {
		s.events.RecordOrLog(ctx, audit.Entry{
			ProjectID: projectID,
			ActorID:   actorID,
			Type:      audit.EventUnauthorizedAttempt,
			Target:    operation,
		})
		return fmt.Errorf("%w: %s requires admin or owner", collab.ErrUnauthorized, operation)
	}
	return nil
}
