package audit

// EventType enumerates the permission-relevant events this service records.
type EventType string

const (
	EventInviteSent          EventType = "invite_sent"
	EventInvitationAccepted  EventType = "invitation_accepted"
	EventInvitationDeclined  EventType = "invitation_declined"
	EventInvitationResent    EventType = "invitation_resent"
	EventPermissionUpdated   EventType = "permission_updated"
	EventCollaboratorRemoved EventType = "collaborator_removed"
	EventShareLinkCreated    EventType = "share_link_created"
	EventShareLinkAccessed   EventType = "share_link_accessed"
	EventShareLinkRevoked    EventType = "share_link_revoked"
	EventUnauthorizedAttempt EventType = "unauthorized_attempt"
)

// AccessEvent is one append-only audit record. Rows are never updated or
// deleted once written.
type AccessEvent struct {
	EventID           string    `gorm:"column:event_id;primaryKey;size:190;not null"`
	ProjectID         string    `gorm:"column:project_id;size:190;not null;index:idx_access_events_project_time,priority:1"`
	ActorID           string    `gorm:"column:actor_id;size:190;not null"`
	Type              EventType `gorm:"column:event_type;size:64;not null"`
	Target            string    `gorm:"column:target;size:320"`
	OccurredAtSeconds int64     `gorm:"column:occurred_at_s;not null;index:idx_access_events_project_time,priority:2"`
	MetadataJSON      string    `gorm:"column:metadata_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (AccessEvent) TableName() string {
	return "access_events"
}
