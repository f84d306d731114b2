package share

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticRoster struct {
	levels map[string]access.Level
}

func (r *staticRoster) LevelFor(_ context.Context, _, userID string) (access.Level, error) {
	level, ok := r.levels[userID]
	if !ok {
		return "", collab.ErrNoAccess
	}
	return level, nil
}

type testFixture struct {
	service *Service
	db      *gorm.DB
	audit   *audit.Recorder
	now     *time.Time
}

func newTestFixture(t *testing.T) *testFixture {
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

	if err := db.AutoMigrate(&Link{}, &audit.AccessEvent{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }

	recorder, err := audit.NewRecorder(audit.RecorderConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: audit.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}

	roster := &staticRoster{levels: map[string]access.Level{
		"owner-1":  access.LevelOwner,
		"admin-1":  access.LevelAdmin,
		"editor-1": access.LevelEditor,
	}}

	fixture := &testFixture{db: db, audit: recorder, now: &now}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Clock:       func() time.Time { return *fixture.now },
		IDProvider:  NewUUIDProvider(),
		TokenSource: NewRandomTokenSource(),
		Roster:      roster,
		Events:      recorder,
	})
	if err != nil {
		t.Fatalf("failed to build share service: %v", err)
	}
	fixture.service = service
	return fixture
}

func (f *testFixture) createLink(t *testing.T, req CreateRequest) Link {
	t.Helper()
	link, err := f.service.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return link
}

func TestCreateRequiresManagerLevel(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.service.Create(context.Background(), CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "editor-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 5,
	})
	if !errors.Is(err, collab.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	_, err = f.service.Create(context.Background(), CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "stranger",
		Level:          access.LevelViewer,
		MaxAccessCount: 5,
	})
	if !errors.Is(err, collab.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-member, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := newTestFixture(t)

	if _, err := f.service.Create(context.Background(), CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelAdmin,
		MaxAccessCount: 5,
	}); !errors.Is(err, access.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel for admin link, got %v", err)
	}

	if _, err := f.service.Create(context.Background(), CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 0,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quota, got %v", err)
	}
}

func TestCreateGeneratesUnguessableToken(t *testing.T) {
	f := newTestFixture(t)
	link := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 5,
	})
	// 32 random bytes encode to 43 base64url characters.
	if len(link.Token) != 43 {
		t.Fatalf("expected 43-character token, got %d (%s)", len(link.Token), link.Token)
	}
	other := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 5,
	})
	if link.Token == other.Token {
		t.Fatalf("tokens must be unique")
	}
}

func TestResolveConsumesQuota(t *testing.T) {
	f := newTestFixture(t)
	link := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelEditor,
		MaxAccessCount: 1,
	})

	grant, err := f.service.Resolve(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if grant.ProjectID != "proj-1" || grant.PermissionLevel != access.LevelEditor {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	var stored Link
	if err := f.db.Where("id = ?", link.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload link: %v", err)
	}
	if stored.CurrentAccessCount != 1 {
		t.Fatalf("expected access count 1, got %d", stored.CurrentAccessCount)
	}

	if _, err := f.service.Resolve(context.Background(), link.Token); !errors.Is(err, ErrLinkQuotaExhausted) {
		t.Fatalf("expected ErrLinkQuotaExhausted, got %v", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.service.Resolve(context.Background(), "no-such-token"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestResolveExpiredLink(t *testing.T) {
	f := newTestFixture(t)
	link := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 10,
		ExpiresInHours: 1,
	})

	*f.now = f.now.Add(61 * time.Minute)
	if _, err := f.service.Resolve(context.Background(), link.Token); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}
}

func TestRevokeIsImmediatelyVisible(t *testing.T) {
	f := newTestFixture(t)
	link := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 10,
	})

	if err := f.service.Revoke(context.Background(), "proj-1", "admin-1", link.ID); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if _, err := f.service.Resolve(context.Background(), link.Token); !errors.Is(err, ErrLinkRevoked) {
		t.Fatalf("expected ErrLinkRevoked on the very next resolve, got %v", err)
	}
}

func TestRevokeUnknownLink(t *testing.T) {
	f := newTestFixture(t)
	if err := f.service.Revoke(context.Background(), "proj-1", "owner-1", "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestConcurrentResolutionNeverExceedsQuota(t *testing.T) {
	f := newTestFixture(t)
	const quota = 5
	const contenders = 20
	link := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: quota,
	})

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Resolve(context.Background(), link.Token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrLinkQuotaExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected resolve error: %v", err)
		}
	}
	if succeeded != quota {
		t.Fatalf("expected exactly %d successful resolutions, got %d", quota, succeeded)
	}
	if exhausted != contenders-quota {
		t.Fatalf("expected %d quota failures, got %d", contenders-quota, exhausted)
	}

	var stored Link
	if err := f.db.Where("id = ?", link.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload link: %v", err)
	}
	if stored.CurrentAccessCount != quota {
		t.Fatalf("access count %d exceeds quota %d", stored.CurrentAccessCount, quota)
	}
}

func TestListRequiresManagerAndReportsUsability(t *testing.T) {
	f := newTestFixture(t)
	active := f.createLink(t, CreateRequest{
		ProjectID:      "proj-1",
		ActorID:        "owner-1",
		Level:          access.LevelViewer,
		MaxAccessCount: 1,
	})
	if err := f.service.Revoke(context.Background(), "proj-1", "owner-1", active.ID); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	if _, err := f.service.List(context.Background(), "proj-1", "editor-1"); !errors.Is(err, collab.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for editor, got %v", err)
	}

	links, err := f.service.List(context.Background(), "proj-1", "owner-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if links[0].Usable(*f.now) {
		t.Fatalf("revoked link must not be usable")
	}
}
