package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
)

var errMissingPresence = errors.New("presence source is required")

// PresenceSource lists the active users of a project.
type PresenceSource interface {
	ListActive(ctx context.Context, projectID string) ([]presence.UserPresence, error)
}

// NameResolver resolves user ids to display names. Optional.
type NameResolver interface {
	Get(ctx context.Context, userID string) (users.Identity, error)
}

// DetectorConfig describes the dependencies of the conflict detector.
type DetectorConfig struct {
	Presence PresenceSource
	Names    NameResolver
	Clock    func() time.Time
}

// Detector derives advisory concurrent-edit warnings from live presence. It
// never blocks a write; there is no locking or merge layer behind it.
type Detector struct {
	presence PresenceSource
	names    NameResolver
	clock    func() time.Time
}

// NewDetector constructs the conflict detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Detector{presence: cfg.Presence, names: cfg.Names, clock: clock}, nil
}

// Editor describes one concurrently editing user.
type Editor struct {
	UserID              string `json:"user_id"`
	DisplayName         string `json:"display_name,omitempty"`
	CurrentActivity     string `json:"current_activity"`
	LastActivitySeconds int64  `json:"last_activity_s"`
}

// Report is the advisory result of a conflict check.
type Report struct {
	HasConflicts     bool     `json:"has_conflicts"`
	ConflictingUsers []Editor `json:"conflicting_users"`
	Suggestions      []string `json:"suggestions"`
	CheckedAt        int64    `json:"checked_at_s"`
}

// Detect reports which other users are online and editing the project right
// now, from the requesting user's point of view.
func (d *Detector) Detect(ctx context.Context, projectID, requestingUserID string) (Report, error) {
	active, err := d.presence.ListActive(ctx, projectID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ConflictingUsers: []Editor{},
		Suggestions:      []string{},
		CheckedAt:        d.clock().UTC().Unix(),
	}
	for _, user := range active {
		if user.UserID == requestingUserID || !user.IsOnline {
			continue
		}
		if !IsEditingActivity(user.CurrentActivity) {
			continue
		}
		editor := Editor{
			UserID:              user.UserID,
			CurrentActivity:     user.CurrentActivity,
			LastActivitySeconds: user.LastActivitySeconds,
		}
		if d.names != nil {
			if identity, err := d.names.Get(ctx, user.UserID); err == nil {
				editor.DisplayName = identity.DisplayName
			}
		}
		report.ConflictingUsers = append(report.ConflictingUsers, editor)
	}

	if len(report.ConflictingUsers) > 0 {
		report.HasConflicts = true
		report.Suggestions = buildSuggestions(report.ConflictingUsers)
	}
	return report, nil
}

// IsEditingActivity reports whether an activity label indicates an editing
// state rather than passive viewing.
func IsEditingActivity(activity string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(activity)), "editing")
}

func buildSuggestions(editors []Editor) []string {
	suggestions := []string{
		"Consider coordinating before editing the same section.",
	}
	if len(editors) == 1 {
		who := editors[0].DisplayName
		if who == "" {
			who = editors[0].UserID
		}
		suggestions = append(suggestions, fmt.Sprintf("%s is editing this project right now; recent changes may not be visible yet.", who))
	} else {
		suggestions = append(suggestions, fmt.Sprintf("%d collaborators are editing this project right now; refresh before making changes.", len(editors)))
	}
	return suggestions
}
