// Package server exposes the desk flows to a local UI over JSON and a
// WebSocket snapshot stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/auth"
	"github.com/campusdesk/servicedesk/internal/desk"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	actorContextKey  = "servicedesk_actor"
	accessTokenParam = "access_token"
	tokenTypeBearer  = "Bearer"
)

var (
	errMissingDesk          = errors.New("desk service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingSnapshots     = errors.New("snapshot source dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	Issue(user users.User) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// SnapshotSource delivers collection snapshots as they change.
type SnapshotSource interface {
	Online() bool
	SubscribeRequests(ctx context.Context, onChange func([]requests.Request)) func()
	SubscribeUsers(ctx context.Context, onChange func([]users.User)) func()
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Desk           *desk.Service
	TokenManager   TokenManager
	Snapshots      SnapshotSource
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Desk == nil {
		return nil, errMissingDesk
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Snapshots == nil {
		return nil, errMissingSnapshots
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		desk:      deps.Desk,
		tokens:    deps.TokenManager,
		snapshots: deps.Snapshots,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/session", handler.handleLogin)
	router.GET("/session", handler.handleCurrentSession)
	router.DELETE("/session", handler.handleLogout)
	router.POST("/users", handler.handleRegister)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/requests", handler.handleListRequests)
	protected.POST("/requests", handler.handleSubmitRequest)
	protected.PATCH("/requests/:id/status", handler.handleUpdateStatus)
	protected.POST("/requests/:id/comments", handler.handleAddComment)
	protected.POST("/requests/:id/reactions", handler.handleToggleReaction)
	protected.POST("/requests/:id/rating", handler.handleRate)
	protected.POST("/requests/:id/archive", handler.handleArchive)
	protected.POST("/requests/:id/restore", handler.handleRestore)
	protected.DELETE("/requests/:id", handler.handlePurge)
	protected.GET("/stats", handler.handleStats)
	protected.GET("/users", handler.handleListUsers)
	protected.POST("/users/:id/verification", handler.handleToggleVerification)
	protected.DELETE("/users/:id", handler.handleDeleteUser)
	protected.GET("/stream", handler.handleStream)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	desk      *desk.Service
	tokens    TokenManager
	snapshots SnapshotSource
	logger    *zap.Logger
}

// authorizeRequest accepts a bearer token whose subject is the signed-in user.
// WebSocket clients that cannot set headers may pass the token as access_token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	current, ok := h.desk.CurrentUser()
	if !ok || current.ID != claims.Subject {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_mismatch"})
		return
	}
	c.Set(actorContextKey, current)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, tokenTypeBearer+" ") {
		return strings.TrimSpace(strings.TrimPrefix(header, tokenTypeBearer+" "))
	}
	return strings.TrimSpace(c.Query(accessTokenParam))
}

func actorFrom(c *gin.Context) users.User {
	value, _ := c.Get(actorContextKey)
	actor, _ := value.(users.User)
	return actor
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online": h.snapshots.Online()})
}

// writeError maps desk error kinds onto HTTP statuses.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	code := "internal_error"
	message := err.Error()
	var serviceErr *desk.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
		message = publicMessage(serviceErr)
	}
	if status >= http.StatusInternalServerError && status != http.StatusInsufficientStorage {
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, desk.ErrStorageFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, desk.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, desk.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, desk.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, desk.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, desk.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err *desk.ServiceError) string {
	source := err.Kind()
	if cause := err.Cause(); cause != nil && !errors.Is(err, desk.ErrStorageFull) {
		source = cause
	}
	message := source.Error()
	if index := strings.Index(message, ": "); index >= 0 {
		message = message[index+2:]
	}
	return message
}

// publicUser strips credentials before a user leaves the process.
func publicUser(user users.User) users.User {
	user.PasswordHash = ""
	return user.WithoutLegacyCredential()
}

func publicUsers(list []users.User) []users.User {
	out := make([]users.User, 0, len(list))
	for _, user := range list {
		out = append(out, publicUser(user))
	}
	return out
}
