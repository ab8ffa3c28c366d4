package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/desk"
	"github.com/campusdesk/servicedesk/internal/users"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        users.User `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.desk.Login(request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithSession(c, http.StatusOK, user)
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.desk.Register(desk.Registration{Email: request.Email, Password: request.Password})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWithSession(c, http.StatusCreated, user)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   tokenTypeBearer,
		User:        publicUser(user),
	})
}

func (h *httpHandler) handleCurrentSession(c *gin.Context) {
	user, ok := h.desk.CurrentUser()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": publicUser(user)})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.desk.Logout(); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
