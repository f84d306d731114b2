package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrProjectNotFound indicates the project id resolves to no record.
	ErrProjectNotFound = errors.New("project: not found")
	// ErrInvalidProject indicates missing or malformed project attributes.
	ErrInvalidProject = errors.New("project: invalid project")
)

// IDProvider issues identifiers for new projects.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for project bookkeeping.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service stores and resolves project ownership records.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("project: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("project: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, idProvider: cfg.IDProvider}, nil
}

// Create registers a project owned by ownerID. Ownership is immutable.
func (s *Service) Create(ctx context.Context, ownerID, name string) (Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return Project{}, fmt.Errorf("%w: owner and name are required", ErrInvalidProject)
	}

	projectID, err := s.idProvider.NewID()
	if err != nil {
		return Project{}, err
	}

	record := Project{ProjectID: projectID, OwnerID: ownerID, Name: name, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Project{}, err
	}
	return record, nil
}

// Get resolves a project id.
func (s *Service) Get(ctx context.Context, projectID string) (Project, error) {
	var record Project
	err := s.db.WithContext(ctx).Where("project_id = ?", strings.TrimSpace(projectID)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return Project{}, err
	}
	return record, nil
}
