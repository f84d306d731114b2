package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/notify"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/project"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnauthorized indicates the actor lacks the permission level the
	// operation requires.
	ErrUnauthorized = errors.New("collab: unauthorized")
	// ErrAlreadyCollaborator indicates a non-terminal row already exists for
	// the target user, or the target is the project owner.
	ErrAlreadyCollaborator = errors.New("collab: already a collaborator")
	// ErrCollaboratorNotFound indicates no row exists for the target user.
	ErrCollaboratorNotFound = errors.New("collab: collaborator not found")
	// ErrInvalidStateTransition indicates the row is not in the state the
	// transition requires.
	ErrInvalidStateTransition = errors.New("collab: invalid state transition")
	// ErrNoChange indicates a permission update that matches the current level.
	ErrNoChange = errors.New("collab: no change")
	// ErrValidation indicates malformed invitation input.
	ErrValidation = errors.New("collab: validation failed")
	// ErrNoAccess indicates the user holds no permission level on the project.
	ErrNoAccess = errors.New("collab: no access to project")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProjects   = errors.New("project directory is required")
	errMissingIdentities = errors.New("identity directory is required")
	errMissingRecorder   = errors.New("audit recorder is required")
	noOpLogger           = zap.NewNop()
)

const notifyTimeout = 10 * time.Second

// IDProvider issues identifiers for new collaborator rows.
type IDProvider interface {
	NewID() (string, error)
}

// ProjectDirectory resolves project ownership.
type ProjectDirectory interface {
	Get(ctx context.Context, projectID string) (project.Project, error)
}

// IdentityDirectory resolves user accounts.
type IdentityDirectory interface {
	LookupByEmail(ctx context.Context, email string) (users.Identity, error)
	Get(ctx context.Context, userID string) (users.Identity, error)
}

// ServiceConfig describes the dependencies of the invitation manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Projects   ProjectDirectory
	Identities IdentityDirectory
	Events     *audit.Recorder
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

// Service manages the collaborator lifecycle: invite, accept, decline,
// permission updates, and revocation.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	projects   ProjectDirectory
	identities IdentityDirectory
	events     *audit.Recorder
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewService constructs the invitation manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Projects == nil {
		return nil, errMissingProjects
	}
	if cfg.Identities == nil {
		return nil, errMissingIdentities
	}
	if cfg.Events == nil {
		return nil, errMissingRecorder
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		projects:   cfg.Projects,
		identities: cfg.Identities,
		events:     cfg.Events,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// LevelFor resolves the effective permission level a user holds on a project.
// The owner always holds the owner level; otherwise the level of an accepted
// collaborator row applies. ErrNoAccess is returned when neither holds.
func (s *Service) LevelFor(ctx context.Context, projectID, userID string) (access.Level, error) {
	record, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if record.OwnerID == userID {
		return access.LevelOwner, nil
	}

	var row Collaborator
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND status = ?", projectID, userID, StatusAccepted).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNoAccess, userID)
	}
	if err != nil {
		return "", err
	}
	return row.PermissionLevel, nil
}

// InviteRequest carries the parameters of an invitation.
type InviteRequest struct {
	ProjectID string
	ActorID   string
	Email     string
	Level     access.Level
	Message   string
	ExpiresAt *time.Time
}

// Invite creates a pending collaborator row for the account behind the email
// address and triggers best-effort delivery of the invitation message.
func (s *Service) Invite(ctx context.Context, req InviteRequest) (Collaborator, error) {
	if !req.Level.Valid() || req.Level == access.LevelOwner {
		return Collaborator{}, fmt.Errorf("%w: %q", access.ErrInvalidLevel, req.Level)
	}
	if strings.TrimSpace(req.Email) == "" {
		return Collaborator{}, fmt.Errorf("%w: email is required", ErrValidation)
	}

	now := s.clock().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return Collaborator{}, fmt.Errorf("%w: expires_at must be in the future", ErrValidation)
	}

	projectRecord, err := s.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return Collaborator{}, err
	}
	if err := s.requireManager(ctx, req.ProjectID, req.ActorID, "invite"); err != nil {
		return Collaborator{}, err
	}

	invitee, err := s.identities.LookupByEmail(ctx, req.Email)
	if err != nil {
		return Collaborator{}, err
	}
	if invitee.UserID == projectRecord.OwnerID {
		return Collaborator{}, fmt.Errorf("%w: project owner", ErrAlreadyCollaborator)
	}

	rowID, err := s.idProvider.NewID()
	if err != nil {
		return Collaborator{}, err
	}

	row := Collaborator{
		ID:               rowID,
		ProjectID:        req.ProjectID,
		UserID:           invitee.UserID,
		PermissionLevel:  req.Level,
		Status:           StatusPending,
		InvitedBy:        req.ActorID,
		Message:          req.Message,
		CreatedAtSeconds: now.Unix(),
		UpdatedAtSeconds: now.Unix(),
	}
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC().Unix()
		row.ExpiresAtSeconds = &expires
	}

	// The uniqueness invariant covers non-terminal rows only; terminal rows
	// from earlier invitations never block a fresh invite.
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Collaborator{}).
			Where("project_id = ? AND user_id = ? AND status IN ?", req.ProjectID, invitee.UserID,
				[]Status{StatusPending, StatusAccepted}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyCollaborator, invitee.UserID)
		}
		return tx.Create(&row).Error
	})
	if txErr != nil {
		return Collaborator{}, txErr
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: req.ProjectID,
		ActorID:   req.ActorID,
		Type:      audit.EventInviteSent,
		Target:    invitee.UserID,
		Metadata:  map[string]string{"permission_level": req.Level.String()},
	})
	s.deliverInvitation(projectRecord, req.ActorID, invitee, req.Level, req.Message)

	return row, nil
}

// Accept transitions the caller's pending invitation to accepted.
func (s *Service) Accept(ctx context.Context, projectID, userID string) (Collaborator, error) {
	row, err := s.transitionPending(ctx, projectID, userID, StatusAccepted)
	if err != nil {
		return Collaborator{}, err
	}
	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   userID,
		Type:      audit.EventInvitationAccepted,
		Target:    userID,
	})
	return row, nil
}

// Decline transitions the caller's pending invitation to declined.
func (s *Service) Decline(ctx context.Context, projectID, userID string) (Collaborator, error) {
	row, err := s.transitionPending(ctx, projectID, userID, StatusDeclined)
	if err != nil {
		return Collaborator{}, err
	}
	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   userID,
		Type:      audit.EventInvitationDeclined,
		Target:    userID,
	})
	return row, nil
}

func (s *Service) transitionPending(ctx context.Context, projectID, userID string, next Status) (Collaborator, error) {
	now := s.clock().UTC()
	updates := map[string]interface{}{
		"status":       next,
		"updated_at_s": now.Unix(),
	}
	if next == StatusAccepted {
		updates["accepted_at_s"] = now.Unix()
	}

	// Guarded UPDATE: the WHERE clause asserts the expected prior status so a
	// racing transition loses cleanly instead of overwriting.
	result := s.db.WithContext(ctx).Model(&Collaborator{}).
		Where("project_id = ? AND user_id = ? AND status = ?", projectID, userID, StatusPending).
		Where("expires_at_s IS NULL OR expires_at_s > ?", now.Unix()).
		Updates(updates)
	if result.Error != nil {
		return Collaborator{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Collaborator{}, s.classifyTransitionFailure(ctx, projectID, userID)
	}

	return s.currentRow(ctx, projectID, userID, next)
}

// UpdatePermission changes the level of an accepted collaborator.
func (s *Service) UpdatePermission(ctx context.Context, projectID, actorID, targetUserID string, newLevel access.Level) (Collaborator, error) {
	if !newLevel.Valid() || newLevel == access.LevelOwner {
		return Collaborator{}, fmt.Errorf("%w: %q", access.ErrInvalidLevel, newLevel)
	}
	if err := s.requireManager(ctx, projectID, actorID, "update_permission"); err != nil {
		return Collaborator{}, err
	}

	var current Collaborator
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND status IN ?", projectID, targetUserID,
			[]Status{StatusPending, StatusAccepted}).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Collaborator{}, fmt.Errorf("%w: %s", ErrCollaboratorNotFound, targetUserID)
	}
	if err != nil {
		return Collaborator{}, err
	}
	if current.Status != StatusAccepted {
		return Collaborator{}, fmt.Errorf("%w: target is %s", ErrInvalidStateTransition, current.Status)
	}
	if current.PermissionLevel == newLevel {
		return Collaborator{}, fmt.Errorf("%w: already %s", ErrNoChange, newLevel)
	}

	result := s.db.WithContext(ctx).Model(&Collaborator{}).
		Where("id = ? AND status = ? AND permission_level = ?", current.ID, StatusAccepted, current.PermissionLevel).
		Updates(map[string]interface{}{
			"permission_level": newLevel,
			"updated_at_s":     s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		return Collaborator{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Collaborator{}, fmt.Errorf("%w: concurrent update", ErrInvalidStateTransition)
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   actorID,
		Type:      audit.EventPermissionUpdated,
		Target:    targetUserID,
		Metadata: map[string]string{
			"previous_level": current.PermissionLevel.String(),
			"new_level":      newLevel.String(),
		},
	})

	return s.currentRow(ctx, projectID, targetUserID, StatusAccepted)
}

// Revoke terminates a pending or accepted collaborator row.
func (s *Service) Revoke(ctx context.Context, projectID, actorID, targetUserID string) error {
	if err := s.requireManager(ctx, projectID, actorID, "revoke"); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&Collaborator{}).
		Where("project_id = ? AND user_id = ? AND status IN ?", projectID, targetUserID,
			[]Status{StatusPending, StatusAccepted}).
		Updates(map[string]interface{}{
			"status":       StatusRevoked,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.classifyTransitionFailure(ctx, projectID, targetUserID)
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   actorID,
		Type:      audit.EventCollaboratorRemoved,
		Target:    targetUserID,
	})
	return nil
}

// Resend re-delivers the invitation message for a pending row. It changes no
// state: created_at and expires_at keep their original values.
func (s *Service) Resend(ctx context.Context, projectID, actorID, targetUserID string) error {
	if err := s.requireManager(ctx, projectID, actorID, "resend"); err != nil {
		return err
	}

	var row Collaborator
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND status = ?", projectID, targetUserID, StatusPending).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.classifyTransitionFailure(ctx, projectID, targetUserID)
	}
	if err != nil {
		return err
	}

	projectRecord, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	invitee, err := s.identities.Get(ctx, targetUserID)
	if err != nil {
		return err
	}

	s.events.RecordOrLog(ctx, audit.Entry{
		ProjectID: projectID,
		ActorID:   actorID,
		Type:      audit.EventInvitationResent,
		Target:    targetUserID,
	})
	s.deliverInvitation(projectRecord, actorID, invitee, row.PermissionLevel, row.Message)
	return nil
}

// List returns the pending and accepted collaborators of a project.
func (s *Service) List(ctx context.Context, projectID string) ([]Collaborator, error) {
	var rows []Collaborator
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND status IN ?", projectID, []Status{StatusPending, StatusAccepted}).
		Order("created_at_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) requireManager(ctx context.Context, projectID, actorID, operation string) error {
	level, err := s.LevelFor(ctx, projectID, actorID)
	if err != nil && !errors.Is(err, ErrNoAccess) {
		return err
	}
	if err != nil || !access.CanManageCollaborators(level) {
		s.events.RecordOrLog(ctx, audit.Entry{
			ProjectID: projectID,
			ActorID:   actorID,
			Type:      audit.EventUnauthorizedAttempt,
			Target:    operation,
		})
		return fmt.Errorf("%w: %s requires admin or owner", ErrUnauthorized, operation)
	}
	return nil
}

func (s *Service) classifyTransitionFailure(ctx context.Context, projectID, userID string) error {
	var latest Collaborator
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("created_at_s DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrCollaboratorNotFound, userID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: row is %s", ErrInvalidStateTransition, latest.Status)
}

func (s *Service) currentRow(ctx context.Context, projectID, userID string, status Status) (Collaborator, error) {
	var row Collaborator
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ? AND status = ?", projectID, userID, status).
		Take(&row).Error
	if err != nil {
		return Collaborator{}, err
	}
	return row, nil
}

// deliverInvitation sends the invite email without blocking or failing the
// mutation that triggered it.
func (s *Service) deliverInvitation(projectRecord project.Project, actorID string, invitee users.Identity, level access.Level, message string) {
	inviterName := actorID
	if identity, err := s.identities.Get(context.Background(), actorID); err == nil && identity.DisplayName != "" {
		inviterName = identity.DisplayName
	}

	invitation := notify.Invitation{
		RecipientEmail: invitee.Email,
		RecipientName:  invitee.DisplayName,
		InviterName:    inviterName,
		ProjectName:    projectRecord.Name,
		Permission:     level.String(),
		Message:        message,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.SendInvitation(ctx, invitation); err != nil {
			s.logger.Warn("invitation delivery failed",
				zap.String("project_id", projectRecord.ProjectID),
				zap.String("recipient", invitee.UserID),
				zap.Error(err))
		}
	}()
}
