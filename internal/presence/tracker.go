package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// OnlineWindow bounds how recent a heartbeat must be for a session to
	// count as online. Clients heartbeat roughly every 30 seconds.
	OnlineWindow = 5 * time.Minute
	// RetentionWindow bounds how long aged-out sessions are kept before the
	// reaper prunes them. Pruning is storage hygiene only; online status
	// never depends on it.
	RetentionWindow = 24 * time.Hour
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidHeartbeat indicates a heartbeat missing its identifying fields.
	ErrInvalidHeartbeat = errors.New("presence: invalid heartbeat")
	noOpLogger          = zap.NewNop()
)

// TrackerConfig describes the dependencies of the presence tracker.
type TrackerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Tracker records heartbeats and derives per-user online status.
type Tracker struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewTracker constructs the presence tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Heartbeat upserts the session keyed by its token, refreshing last activity
// and the declared activity label. Safe to call at any cadence.
func (t *Tracker) Heartbeat(ctx context.Context, projectID, userID, sessionToken, activity, deviceInfo string) error {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionToken) == "" {
		return fmt.Errorf("%w: project, user, and session token are required", ErrInvalidHeartbeat)
	}
	if strings.TrimSpace(activity) == "" {
		activity = ActivityViewing
	}

	// A session token stays bound to the project and user that first used it;
	// the upsert must never migrate a row to a different owner.
	var existing Session
	err := t.db.WithContext(ctx).Where("session_token = ?", sessionToken).Take(&existing).Error
	if err == nil && (existing.ProjectID != projectID || existing.UserID != userID) {
		return fmt.Errorf("%w: session token is bound to another project or user", ErrInvalidHeartbeat)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := t.clock().UTC().Unix()
	session := Session{
		SessionToken:        sessionToken,
		ProjectID:           projectID,
		UserID:              userID,
		CurrentActivity:     activity,
		DeviceInfo:          deviceInfo,
		StartedAtSeconds:    now,
		LastActivitySeconds: now,
	}

	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_token"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_activity", "device_info", "last_activity_s"}),
		}).
		Create(&session).Error
}

// EndSession removes a session immediately. Unknown tokens are a no-op.
func (t *Tracker) EndSession(ctx context.Context, sessionToken string) error {
	if strings.TrimSpace(sessionToken) == "" {
		return fmt.Errorf("%w: session token is required", ErrInvalidHeartbeat)
	}
	return t.db.WithContext(ctx).
		Where("session_token = ?", sessionToken).
		Delete(&Session{}).Error
}

// UserPresence aggregates a user's sessions on one project.
type UserPresence struct {
	UserID              string
	IsOnline            bool
	CurrentActivity     string
	LastActivitySeconds int64
	SessionCount        int
}

// ListActive aggregates presence per user across that user's sessions. A user
// is online iff any of their sessions heartbeated within the online window;
// the newest session's activity label wins.
func (t *Tracker) ListActive(ctx context.Context, projectID string) ([]UserPresence, error) {
	var sessions []Session
	err := t.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("last_activity_s DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}

	cutoff := t.clock().UTC().Add(-OnlineWindow).Unix()
	byUser := make(map[string]*UserPresence)
	order := make([]string, 0, len(sessions))
	for _, session := range sessions {
		entry, seen := byUser[session.UserID]
		if !seen {
			entry = &UserPresence{
				UserID:              session.UserID,
				CurrentActivity:     session.CurrentActivity,
				LastActivitySeconds: session.LastActivitySeconds,
			}
			byUser[session.UserID] = entry
			order = append(order, session.UserID)
		}
		entry.SessionCount++
		if session.LastActivitySeconds > cutoff {
			entry.IsOnline = true
		}
		if session.LastActivitySeconds > entry.LastActivitySeconds {
			entry.LastActivitySeconds = session.LastActivitySeconds
			entry.CurrentActivity = session.CurrentActivity
		}
	}

	result := make([]UserPresence, 0, len(order))
	for _, userID := range order {
		result = append(result, *byUser[userID])
	}
	return result, nil
}

// PruneStale deletes sessions idle beyond the retention window and returns
// how many rows were removed.
func (t *Tracker) PruneStale(ctx context.Context) (int64, error) {
	cutoff := t.clock().UTC().Add(-RetentionWindow).Unix()
	result := t.db.WithContext(ctx).
		Where("last_activity_s <= ?", cutoff).
		Delete(&Session{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		t.logger.Debug("pruned stale sessions", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// RunReaper prunes stale sessions on the given interval until ctx is done.
func (t *Tracker) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.PruneStale(ctx); err != nil {
				t.logger.Warn("session reaper sweep failed", zap.Error(err))
			}
		}
	}
}
