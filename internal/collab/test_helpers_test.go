package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/notify"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/project"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu        sync.Mutex
	delivered chan notify.Invitation
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{delivered: make(chan notify.Invitation, 8)}
}

func (n *recordingNotifier) SendInvitation(_ context.Context, invitation notify.Invitation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered <- invitation
	return nil
}

type fixture struct {
	service  *Service
	db       *gorm.DB
	projects *project.Service
	users    *users.Service
	audit    *audit.Recorder
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&users.Identity{}, &project.Project{}, &Collaborator{}, &audit.AccessEvent{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }

	projects, err := project.NewService(project.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: project.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build project service: %v", err)
	}

	identities, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}

	recorder, err := audit.NewRecorder(audit.RecorderConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: audit.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}

	notifier := newRecordingNotifier()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
		Projects:   projects,
		Identities: identities,
		Events:     recorder,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to build collab service: %v", err)
	}

	return &fixture{
		service:  service,
		db:       db,
		projects: projects,
		users:    identities,
		audit:    recorder,
		notifier: notifier,
		now:      now,
	}
}

func (f *fixture) registerUser(t *testing.T, userID, email string) users.Identity {
	t.Helper()
	identity, err := f.users.Register(context.Background(), users.Identity{
		UserID:      userID,
		Email:       email,
		DisplayName: userID,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", userID, err)
	}
	return identity
}

func (f *fixture) createProject(t *testing.T, ownerID, name string) project.Project {
	t.Helper()
	record, err := f.projects.Create(context.Background(), ownerID, name)
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return record
}

func (f *fixture) acceptedCollaborator(t *testing.T, projectID, actorID, userID, email string, level access.Level) Collaborator {
	t.Helper()
	f.registerUser(t, userID, email)
	if _, err := f.service.Invite(context.Background(), InviteRequest{
		ProjectID: projectID,
		ActorID:   actorID,
		Email:     email,
		Level:     level,
	}); err != nil {
		t.Fatalf("failed to invite %s: %v", userID, err)
	}
	row, err := f.service.Accept(context.Background(), projectID, userID)
	if err != nil {
		t.Fatalf("failed to accept invite for %s: %v", userID, err)
	}
	return row
}

func (f *fixture) eventTypes(t *testing.T, projectID string) []audit.EventType {
	t.Helper()
	events, err := f.audit.List(context.Background(), projectID, 100)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	types := make([]audit.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func (f *fixture) awaitDelivery(t *testing.T) notify.Invitation {
	t.Helper()
	select {
	case invitation := <-f.notifier.delivered:
		return invitation
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for invitation delivery")
		return notify.Invitation{}
	}
}
