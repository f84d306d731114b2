package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/conflict"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/project"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/share"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "cortex_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsers        = errors.New("users service dependency required")
	errMissingProjects     = errors.New("project service dependency required")
	errMissingCollab       = errors.New("collaboration service dependency required")
	errMissingLinks        = errors.New("share link service dependency required")
	errMissingPresence     = errors.New("presence tracker dependency required")
	errMissingConflicts    = errors.New("conflict detector dependency required")
	errMissingAudit        = errors.New("audit recorder dependency required")
	errInvalidAuthHeader   = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens that identify actors
// on authenticated routes.
type TokenManager interface {
	Issue(subject string) (string, int64, error)
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	TokenManager   TokenManager
	Users          *users.Service
	Projects       *project.Service
	Collaborators  *collab.Service
	Links          *share.Service
	Presence       *presence.Tracker
	Conflicts      *conflict.Detector
	Audit          *audit.Recorder
	ShareBaseURL   string
	PlatformSecret string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the collaboration API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Projects == nil {
		return nil, errMissingProjects
	}
	if deps.Collaborators == nil {
		return nil, errMissingCollab
	}
	if deps.Links == nil {
		return nil, errMissingLinks
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Conflicts == nil {
		return nil, errMissingConflicts
	}
	if deps.Audit == nil {
		return nil, errMissingAudit
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:         deps.TokenManager,
		users:          deps.Users,
		projects:       deps.Projects,
		collaborators:  deps.Collaborators,
		links:          deps.Links,
		presence:       deps.Presence,
		conflicts:      deps.Conflicts,
		audit:          deps.Audit,
		shareBaseURL:   strings.TrimRight(deps.ShareBaseURL, "/"),
		platformSecret: deps.PlatformSecret,
		clock:          clock,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/share/:token", handler.handleResolveShareLink)
	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/users", handler.handleRegisterUser)
	protected.POST("/projects", handler.handleCreateProject)
	protected.GET("/projects/:id/collaborators", handler.handleListCollaborators)
	protected.POST("/projects/:id/collaborators", handler.handleInvite)
	protected.PUT("/projects/:id/collaborators", handler.handleUpdatePermission)
	protected.DELETE("/projects/:id/collaborators", handler.handleRevokeCollaborator)
	protected.POST("/projects/:id/invitations", handler.handleInvitationAction)
	protected.POST("/projects/:id/invitations/resend", handler.handleResendInvitation)
	protected.POST("/projects/:id/sharing/links", handler.handleCreateShareLink)
	protected.GET("/projects/:id/sharing/links", handler.handleListShareLinks)
	protected.DELETE("/projects/:id/sharing/links", handler.handleRevokeShareLink)
	protected.POST("/projects/:id/sharing/sessions", handler.handleHeartbeat)
	protected.DELETE("/projects/:id/sharing/sessions", handler.handleEndSession)
	protected.GET("/projects/:id/sharing/sessions", handler.handleListSessions)
	protected.GET("/projects/:id/activity", handler.handleListActivity)

	return router, nil
}

type httpHandler struct {
	tokens         TokenManager
	users          *users.Service
	projects       *project.Service
	collaborators  *collab.Service
	links          *share.Service
	presence       *presence.Tracker
	conflicts      *conflict.Detector
	audit          *audit.Recorder
	shareBaseURL   string
	platformSecret string
	clock          func() time.Time
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthHeader.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthHeader.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// respondError maps domain errors onto stable codes and HTTP statuses.
// Internal detail never leaks past the code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collab.ErrUnauthorized), errors.Is(err, collab.ErrNoAccess):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
	case errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, project.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
	case errors.Is(err, collab.ErrCollaboratorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "collaborator_not_found"})
	case errors.Is(err, share.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link_not_found"})
	case errors.Is(err, collab.ErrAlreadyCollaborator):
		c.JSON(http.StatusConflict, gin.H{"error": "already_collaborator"})
	case errors.Is(err, collab.ErrNoChange):
		c.JSON(http.StatusConflict, gin.H{"error": "no_change"})
	case errors.Is(err, collab.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state_transition"})
	case errors.Is(err, share.ErrLinkExpired):
		c.JSON(http.StatusGone, gin.H{"error": "link_expired"})
	case errors.Is(err, share.ErrLinkQuotaExhausted):
		c.JSON(http.StatusGone, gin.H{"error": "link_quota_exhausted"})
	case errors.Is(err, share.ErrLinkRevoked):
		c.JSON(http.StatusForbidden, gin.H{"error": "link_revoked"})
	case isValidationError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validationCode(err)})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
