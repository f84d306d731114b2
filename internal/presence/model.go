package presence

// Activity labels reported by clients on each heartbeat.
const (
	ActivityViewing string = "viewing"
	ActivityEditing string = "editing"
	ActivityIdle    string = "idle"
)

// Session is one device's ephemeral presence on a project. Sessions are
// created on first heartbeat, refreshed on every subsequent heartbeat, and
// age out by absence; only an explicit end deletes them eagerly.
type Session struct {
	SessionToken        string `gorm:"column:session_token;primaryKey;size:190;not null"`
	ProjectID           string `gorm:"column:project_id;size:190;not null;index:idx_sessions_project,priority:1"`
	UserID              string `gorm:"column:user_id;size:190;not null;index:idx_sessions_project,priority:2"`
	CurrentActivity     string `gorm:"column:current_activity;size:64;not null"`
	DeviceInfo          string `gorm:"column:device_info;size:320;not null;default:''"`
	StartedAtSeconds    int64  `gorm:"column:started_at_s;not null"`
	LastActivitySeconds int64  `gorm:"column:last_activity_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "collaboration_sessions"
}
