package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProjectID  = errors.New("project identifier is required")
	errMissingEventType  = errors.New("event type is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new events.
type IDProvider interface {
	NewID() (string, error)
}

// RecorderConfig describes the dependencies of the audit recorder.
type RecorderConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Recorder appends access events. It exposes no update or delete path.
type Recorder struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewRecorder constructs the audit recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Entry is the caller-facing shape of an event to record.
type Entry struct {
	ProjectID string
	ActorID   string
	Type      EventType
	Target    string
	Metadata  map[string]string
}

// Record appends one event. Transient store failures are retried; the caller
// decides whether a persistent failure is fatal for its own operation.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ProjectID == "" {
		return errMissingProjectID
	}
	if entry.Type == "" {
		return errMissingEventType
	}

	eventID, err := r.idProvider.NewID()
	if err != nil {
		return err
	}

	metadataJSON := ""
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	event := AccessEvent{
		EventID:           eventID,
		ProjectID:         entry.ProjectID,
		ActorID:           entry.ActorID,
		Type:              entry.Type,
		Target:            entry.Target,
		OccurredAtSeconds: r.clock().UTC().Unix(),
		MetadataJSON:      metadataJSON,
	}

	return database.WithRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(&event).Error
	})
}

// RecordOrLog appends one event and logs instead of failing. Used on success
// paths where the mutation already committed and must not be rolled back by
// a sink failure.
func (r *Recorder) RecordOrLog(ctx context.Context, entry Entry) {
	if err := r.Record(ctx, entry); err != nil {
		r.logger.Error("access event dropped",
			zap.String("project_id", entry.ProjectID),
			zap.String("event_type", string(entry.Type)),
			zap.Error(err))
	}
}

// List returns events for a project, newest first, bounded by limit.
func (r *Recorder) List(ctx context.Context, projectID string, limit int) ([]AccessEvent, error) {
	if projectID == "" {
		return nil, errMissingProjectID
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []AccessEvent
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("occurred_at_s DESC, event_id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
