package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/auth"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/conflict"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/database"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/notify"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/project"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/server"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/share"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const platformSecret = "integration-platform-secret"

type stack struct {
	handler http.Handler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "cortex.db")
	db, err := database.OpenSQLite(dbPath, zap.NewNop(),
		&users.Identity{},
		&project.Project{},
		&collab.Collaborator{},
		&share.Link{},
		&presence.Session{},
		&audit.AccessEvent{},
	)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("integration-test-secret"),
		TokenTTL:      time.Hour,
	})

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, IDProvider: audit.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build audit recorder: %v", err)
	}
	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	projects, err := project.NewService(project.ServiceConfig{Database: db, IDProvider: project.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build project service: %v", err)
	}
	collaborators, err := collab.NewService(collab.ServiceConfig{
		Database:   db,
		IDProvider: collab.NewUUIDProvider(),
		Projects:   projects,
		Identities: identities,
		Events:     recorder,
		Notifier:   notify.Nop{},
	})
	if err != nil {
		t.Fatalf("failed to build collab service: %v", err)
	}
	links, err := share.NewService(share.ServiceConfig{
		Database:    db,
		IDProvider:  share.NewUUIDProvider(),
		TokenSource: share.NewRandomTokenSource(),
		Roster:      collaborators,
		Events:      recorder,
	})
	if err != nil {
		t.Fatalf("failed to build share service: %v", err)
	}
	tracker, err := presence.NewTracker(presence.TrackerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build presence tracker: %v", err)
	}
	detector, err := conflict.NewDetector(conflict.DetectorConfig{Presence: tracker, Names: identities})
	if err != nil {
		t.Fatalf("failed to build conflict detector: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokens,
		Users:          identities,
		Projects:       projects,
		Collaborators:  collaborators,
		Links:          links,
		Presence:       tracker,
		Conflicts:      detector,
		Audit:          recorder,
		ShareBaseURL:   "https://cortex.test/share",
		PlatformSecret: platformSecret,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &stack{handler: handler}
}

// mintToken exchanges the platform secret for a bearer token over the API,
// the same way a deployed client would.
func (s *stack) mintToken(t *testing.T, userID string) string {
	t.Helper()
	status, payload := s.do(t, http.MethodPost, "/auth/token", "", map[string]interface{}{
		"user_id":         userID,
		"platform_secret": platformSecret,
	})
	if status != http.StatusOK {
		t.Fatalf("token exchange for %s returned %d: %v", userID, status, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("token exchange for %s returned no token: %v", userID, payload)
	}
	return token
}

func (s *stack) do(t *testing.T, method, path, bearer string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)

	var payload map[string]interface{}
	if len(recorder.Body.Bytes()) > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder.Code, payload
}

func TestCollaborationLifecycle(t *testing.T) {
	s := newStack(t)
	ownerToken := s.mintToken(t, "owner-1")
	guestToken := s.mintToken(t, "guest-1")

	for user, token := range map[string]string{"owner-1": ownerToken, "guest-1": guestToken} {
		status, _ := s.do(t, http.MethodPost, "/users", token, map[string]interface{}{
			"email":        user + "@example.com",
			"display_name": user,
		})
		if status != http.StatusOK {
			t.Fatalf("register %s returned %d", user, status)
		}
	}

	status, created := s.do(t, http.MethodPost, "/projects", ownerToken, map[string]interface{}{"name": "Atlas"})
	if status != http.StatusCreated {
		t.Fatalf("create project returned %d", status)
	}
	projectID := created["project_id"].(string)

	status, _ = s.do(t, http.MethodPost, "/projects/"+projectID+"/collaborators", ownerToken, map[string]interface{}{
		"email":            "guest-1@example.com",
		"permission_level": "editor",
		"message":          "join the Atlas build",
	})
	if status != http.StatusCreated {
		t.Fatalf("invite returned %d", status)
	}

	status, accepted := s.do(t, http.MethodPost, "/projects/"+projectID+"/invitations", guestToken, map[string]interface{}{"action": "accept"})
	if status != http.StatusOK || accepted["status"] != "accepted" {
		t.Fatalf("accept returned %d %v", status, accepted)
	}

	// Share link round trip: create, resolve anonymously, revoke.
	status, link := s.do(t, http.MethodPost, "/projects/"+projectID+"/sharing/links", ownerToken, map[string]interface{}{
		"permission_level": "viewer",
		"max_access_count": 3,
	})
	if status != http.StatusCreated {
		t.Fatalf("create link returned %d %v", status, link)
	}
	token := link["token"].(string)
	linkID := link["link_id"].(string)

	status, grant := s.do(t, http.MethodGet, "/share/"+token, "", nil)
	if status != http.StatusOK || grant["project_id"] != projectID {
		t.Fatalf("resolve returned %d %v", status, grant)
	}

	status, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/projects/%s/sharing/links?link_id=%s", projectID, linkID), ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("revoke link returned %d", status)
	}
	if status, _ = s.do(t, http.MethodGet, "/share/"+token, "", nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 after revocation, got %d", status)
	}

	// Both users heartbeat as editors and the conflict report flags it.
	for user, token := range map[string]string{"owner-1": ownerToken, "guest-1": guestToken} {
		status, _ := s.do(t, http.MethodPost, "/projects/"+projectID+"/sharing/sessions", token, map[string]interface{}{
			"session_token": "session-" + user,
			"activity":      "editing",
		})
		if status != http.StatusOK {
			t.Fatalf("heartbeat for %s returned %d", user, status)
		}
	}
	status, sessions := s.do(t, http.MethodGet, "/projects/"+projectID+"/sharing/sessions", ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("sessions returned %d", status)
	}
	conflicts, _ := sessions["conflicts"].(map[string]interface{})
	if conflicts["has_conflicts"] != true {
		t.Fatalf("expected an edit conflict report, got %v", conflicts)
	}

	// The activity feed has the full trail, newest first.
	status, activity := s.do(t, http.MethodGet, "/projects/"+projectID+"/activity", ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("activity returned %d", status)
	}
	events, _ := activity["events"].([]interface{})
	seen := map[string]bool{}
	for _, raw := range events {
		event := raw.(map[string]interface{})
		seen[event["event_type"].(string)] = true
	}
	for _, expected := range []string{"invite_sent", "invitation_accepted", "share_link_created", "share_link_accessed", "share_link_revoked"} {
		if !seen[expected] {
			t.Fatalf("expected %s in the activity trail, got %v", expected, seen)
		}
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	s := newStack(t)

	past := time.Now().Add(-2 * time.Hour)
	staleIssuer := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("integration-test-secret"),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return past },
	})
	expired, _, err := staleIssuer.Issue("owner-1")
	if err != nil {
		t.Fatalf("failed to mint expired token: %v", err)
	}

	status, _ := s.do(t, http.MethodPost, "/projects", expired, map[string]interface{}{"name": "Atlas"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", status)
	}
}
