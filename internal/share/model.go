package share

import (
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
)

// Link is a tokenized access grant not tied to a user account. Usability is
// derived at read time: a link grants access only while it is active, not
// expired, and below its usage quota. Expiry and quota exhaustion are never
// written back; only explicit revocation clears is_active.
type Link struct {
	ID                 string       `gorm:"column:id;primaryKey;size:190;not null"`
	ProjectID          string       `gorm:"column:project_id;size:190;not null;index"`
	CreatedBy          string       `gorm:"column:created_by;size:190;not null"`
	Token              string       `gorm:"column:token;size:64;not null;uniqueIndex"`
	PermissionLevel    access.Level `gorm:"column:permission_level;size:32;not null"`
	MaxAccessCount     int64        `gorm:"column:max_access_count;not null"`
	CurrentAccessCount int64        `gorm:"column:current_access_count;not null;default:0"`
	ExpiresAtSeconds   *int64       `gorm:"column:expires_at_s"`
	IsActive           bool         `gorm:"column:is_active;not null;default:true"`
	RequiresLogin      bool         `gorm:"column:requires_login;not null;default:false"`
	AllowAPIAccess     bool         `gorm:"column:allow_api_access;not null;default:false"`
	DomainsJSON        string       `gorm:"column:domains_json;type:text;not null;default:''"`
	CreatedAtSeconds   int64        `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Link) TableName() string {
	return "share_links"
}

// Expired reports whether the link's deadline has passed at the given time.
func (l Link) Expired(now time.Time) bool {
	return l.ExpiresAtSeconds != nil && *l.ExpiresAtSeconds <= now.Unix()
}

// QuotaExhausted reports whether every access slot has been consumed.
func (l Link) QuotaExhausted() bool {
	return l.CurrentAccessCount >= l.MaxAccessCount
}

// Usable reports whether a resolution at the given time would succeed.
func (l Link) Usable(now time.Time) bool {
	return l.IsActive && !l.Expired(now) && !l.QuotaExhausted()
}
