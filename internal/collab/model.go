package collab

import (
	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
)

// Status is the lifecycle state of a collaborator row.
//
// pending --accept--> accepted
// pending --decline--> declined
// pending --revoke--> revoked
// accepted --revoke--> revoked
//
// declined and revoked are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusRevoked  Status = "revoked"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusRevoked
}

// Collaborator is a non-owner user granted access to a project. The project
// owner is never represented here. At most one non-terminal row exists per
// (project_id, user_id); terminal rows accumulate as re-invitation history.
type Collaborator struct {
	ID                string       `gorm:"column:id;primaryKey;size:190;not null"`
	ProjectID         string       `gorm:"column:project_id;size:190;not null;index:idx_collaborators_project_user,priority:1"`
	UserID            string       `gorm:"column:user_id;size:190;not null;index:idx_collaborators_project_user,priority:2"`
	PermissionLevel   access.Level `gorm:"column:permission_level;size:32;not null"`
	Status            Status       `gorm:"column:status;size:32;not null;index:idx_collaborators_project_user,priority:3"`
	InvitedBy         string       `gorm:"column:invited_by;size:190;not null"`
	Message           string       `gorm:"column:message;size:1024;not null;default:''"`
	CreatedAtSeconds  int64        `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64        `gorm:"column:updated_at_s;not null"`
	AcceptedAtSeconds *int64       `gorm:"column:accepted_at_s"`
	ExpiresAtSeconds  *int64       `gorm:"column:expires_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Collaborator) TableName() string {
	return "collaborators"
}
