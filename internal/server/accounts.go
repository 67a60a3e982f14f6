package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateUserPayload struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type userPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{ID: user.UserID, Name: user.Username, CreatedAt: user.CreatedAt.UTC()}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.UserID)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.String("user_id", user.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        newUserPayload(user),
	})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	stored, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(stored, func(user users.User, _ int) userPayload {
		return newUserPayload(user)
	}))
}

// handleUpdateUser treats a malformed body as an invalid username so that Forbidden and
// NotFound still take precedence.
func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var request updateUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		empty := ""
		request = updateUserPayload{Username: &empty}
	}
	user, err := h.users.Update(c.Request.Context(), c.GetString(principalIDContextKey), c.Param("id"), users.UpdateRequest{
		Username: request.Username,
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.GetString(principalIDContextKey), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
