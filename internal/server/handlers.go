package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/share"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	"github.com/gin-gonic/gin"
)

type issueTokenPayload struct {
	UserID         string `json:"user_id"`
	PlatformSecret string `json:"platform_secret"`
}

// handleIssueToken exchanges the platform secret for a bearer token. The
// route stays closed until a platform secret is configured.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request issueTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if h.platformSecret == "" ||
		subtle.ConstantTimeCompare([]byte(request.PlatformSecret), []byte(h.platformSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(strings.TrimSpace(request.UserID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in_s": expiresIn})
}

type registerUserPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (h *httpHandler) handleRegisterUser(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request registerUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.users.Register(c.Request.Context(), users.Identity{
		UserID:      userID,
		Email:       request.Email,
		DisplayName: request.DisplayName,
		AvatarURL:   request.AvatarURL,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":      identity.UserID,
		"email":        identity.Email,
		"display_name": identity.DisplayName,
	})
}

type createProjectPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createProjectPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.projects.Create(c.Request.Context(), userID, request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"project_id": record.ProjectID,
		"owner_id":   record.OwnerID,
		"name":       record.Name,
	})
}

type collaboratorPayload struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	PermissionLevel string `json:"permission_level"`
	Status          string `json:"status"`
	InvitedBy       string `json:"invited_by"`
	CreatedAt       int64  `json:"created_at_s"`
	AcceptedAt      *int64 `json:"accepted_at_s,omitempty"`
	ExpiresAt       *int64 `json:"expires_at_s,omitempty"`
}

func collaboratorResponse(row collab.Collaborator) collaboratorPayload {
	return collaboratorPayload{
		ID:              row.ID,
		UserID:          row.UserID,
		PermissionLevel: row.PermissionLevel.String(),
		Status:          string(row.Status),
		InvitedBy:       row.InvitedBy,
		CreatedAt:       row.CreatedAtSeconds,
		AcceptedAt:      row.AcceptedAtSeconds,
		ExpiresAt:       row.ExpiresAtSeconds,
	}
}

func (h *httpHandler) handleListCollaborators(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	if _, err := h.collaborators.LevelFor(c.Request.Context(), projectID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	rows, err := h.collaborators.List(c.Request.Context(), projectID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]collaboratorPayload, 0, len(rows))
	for _, row := range rows {
		response = append(response, collaboratorResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": response})
}

type invitePayload struct {
	Email           string `json:"email"`
	PermissionLevel string `json:"permission_level"`
	Message         string `json:"message"`
	ExpiresAt       *int64 `json:"expires_at_s"`
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	level, err := access.ParseAssignable(request.PermissionLevel)
	if err != nil {
		h.respondError(c, err)
		return
	}

	inviteRequest := collab.InviteRequest{
		ProjectID: projectID,
		ActorID:   userID,
		Email:     request.Email,
		Level:     level,
		Message:   request.Message,
	}
	if request.ExpiresAt != nil {
		expires := time.Unix(*request.ExpiresAt, 0).UTC()
		inviteRequest.ExpiresAt = &expires
	}

	row, err := h.collaborators.Invite(c.Request.Context(), inviteRequest)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, collaboratorResponse(row))
}

type updatePermissionPayload struct {
	UserID          string `json:"user_id"`
	PermissionLevel string `json:"permission_level"`
}

func (h *httpHandler) handleUpdatePermission(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request updatePermissionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	level, err := access.ParseAssignable(request.PermissionLevel)
	if err != nil {
		h.respondError(c, err)
		return
	}

	row, err := h.collaborators.UpdatePermission(c.Request.Context(), projectID, userID, request.UserID, level)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collaboratorResponse(row))
}

func (h *httpHandler) handleRevokeCollaborator(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")
	targetUserID := strings.TrimSpace(c.Query("user_id"))
	if targetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.collaborators.Revoke(c.Request.Context(), projectID, userID, targetUserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

type invitationActionPayload struct {
	Action string `json:"action"`
}

func (h *httpHandler) handleInvitationAction(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request invitationActionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var (
		row collab.Collaborator
		err error
	)
	switch strings.ToLower(strings.TrimSpace(request.Action)) {
	case "accept":
		row, err = h.collaborators.Accept(c.Request.Context(), projectID, userID)
	case "decline":
		row, err = h.collaborators.Decline(c.Request.Context(), projectID, userID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collaboratorResponse(row))
}

type resendPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleResendInvitation(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request resendPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.collaborators.Resend(c.Request.Context(), projectID, userID, request.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resent"})
}

type createLinkPayload struct {
	PermissionLevel string   `json:"permission_level"`
	MaxAccessCount  int64    `json:"max_access_count"`
	ExpiresInHours  int      `json:"expires_in_hours"`
	Domains         []string `json:"domain_restrictions"`
	RequiresLogin   bool     `json:"requires_login"`
	AllowAPIAccess  bool     `json:"allow_api_access"`
}

func (h *httpHandler) handleCreateShareLink(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request createLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	level, err := access.ParseLinkLevel(request.PermissionLevel)
	if err != nil {
		h.respondError(c, err)
		return
	}

	link, err := h.links.Create(c.Request.Context(), share.CreateRequest{
		ProjectID:      projectID,
		ActorID:        userID,
		Level:          level,
		MaxAccessCount: request.MaxAccessCount,
		ExpiresInHours: request.ExpiresInHours,
		Domains:        request.Domains,
		RequiresLogin:  request.RequiresLogin,
		AllowAPIAccess: request.AllowAPIAccess,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"link_id":          link.ID,
		"token":            link.Token,
		"share_url":        h.shareBaseURL + "/" + link.Token,
		"permission_level": link.PermissionLevel.String(),
		"max_access_count": link.MaxAccessCount,
		"expires_at_s":     link.ExpiresAtSeconds,
	})
}

func (h *httpHandler) handleListShareLinks(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	links, err := h.links.List(c.Request.Context(), projectID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	now := h.clock().UTC()
	response := make([]gin.H, 0, len(links))
	for _, link := range links {
		response = append(response, gin.H{
			"link_id":              link.ID,
			"permission_level":     link.PermissionLevel.String(),
			"max_access_count":     link.MaxAccessCount,
			"current_access_count": link.CurrentAccessCount,
			"expires_at_s":         link.ExpiresAtSeconds,
			"is_active":            link.IsActive,
			"usable":               link.Usable(now),
			"created_at_s":         link.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"links": response})
}

func (h *httpHandler) handleRevokeShareLink(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")
	linkID := strings.TrimSpace(c.Query("link_id"))
	if linkID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.links.Revoke(c.Request.Context(), projectID, userID, linkID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *httpHandler) handleResolveShareLink(c *gin.Context) {
	token := c.Param("token")

	grant, err := h.links.Resolve(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id":       grant.ProjectID,
		"permission_level": grant.PermissionLevel.String(),
		"requires_login":   grant.RequiresLogin,
		"allow_api_access": grant.AllowAPIAccess,
	})
}

type heartbeatPayload struct {
	SessionToken string `json:"session_token"`
	Activity     string `json:"activity"`
	DeviceInfo   string `json:"device_info"`
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	var request heartbeatPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.presence.Heartbeat(c.Request.Context(), projectID, userID, request.SessionToken, request.Activity, request.DeviceInfo)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleEndSession(c *gin.Context) {
	sessionToken := strings.TrimSpace(c.Query("session_token"))
	if sessionToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.presence.EndSession(c.Request.Context(), sessionToken); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *httpHandler) handleListSessions(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	if _, err := h.collaborators.LevelFor(c.Request.Context(), projectID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	active, err := h.presence.ListActive(c.Request.Context(), projectID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	report, err := h.conflicts.Detect(c.Request.Context(), projectID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sessions := make([]gin.H, 0, len(active))
	for _, user := range active {
		sessions = append(sessions, gin.H{
			"user_id":          user.UserID,
			"is_online":        user.IsOnline,
			"current_activity": user.CurrentActivity,
			"last_activity_s":  user.LastActivitySeconds,
			"session_count":    user.SessionCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"active": sessions, "conflicts": report})
}

func (h *httpHandler) handleListActivity(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	projectID := c.Param("id")

	level, err := h.collaborators.LevelFor(c.Request.Context(), projectID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !access.CanManageCollaborators(level) {
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	}

	limit := 100
	events, err := h.audit.List(c.Request.Context(), projectID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := make([]gin.H, 0, len(events))
	for _, event := range events {
		response = append(response, gin.H{
			"event_id":      event.EventID,
			"actor_id":      event.ActorID,
			"event_type":    string(event.Type),
			"target":        event.Target,
			"occurred_at_s": event.OccurredAtSeconds,
			"metadata":      event.MetadataJSON,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": response})
}
