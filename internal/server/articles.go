package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/posts"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type createPostPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type updatePostPayload struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type postAuthorPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type postPayload struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Author    postAuthorPayload `json:"author"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func newPostPayload(post posts.Post, authorName string) postPayload {
	return postPayload{
		ID:        post.PostID,
		Title:     post.Title,
		Content:   post.Content,
		Author:    postAuthorPayload{ID: post.AuthorID, Name: authorName},
		CreatedAt: time.UnixMilli(post.CreatedAtMillis).UTC(),
		UpdatedAt: time.UnixMilli(post.UpdatedAtMillis).UTC(),
	}
}

// postPayloads resolves every author in one lookup. A failed lookup degrades to empty
// names rather than failing the read.
func (h *httpHandler) postPayloads(ctx context.Context, stored []posts.Post) []postPayload {
	authorIDs := lo.Map(stored, func(post posts.Post, _ int) string {
		return post.AuthorID
	})
	names, err := h.users.DisplayNames(ctx, authorIDs)
	if err != nil {
		h.logger.Warn("post author resolution failed", zap.Int("posts", len(stored)), zap.Error(err))
		names = map[string]string{}
	}
	return lo.Map(stored, func(post posts.Post, _ int) postPayload {
		return newPostPayload(post, names[post.AuthorID])
	})
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	stored, err := h.posts.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.postPayloads(c.Request.Context(), stored))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.postPayloads(c.Request.Context(), []posts.Post{post})[0])
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	post, err := h.posts.Create(c.Request.Context(), posts.CreateRequest{
		AuthorID: c.GetString(principalIDContextKey),
		Title:    request.Title,
		Content:  request.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.postPayloads(c.Request.Context(), []posts.Post{post})[0])
}

// handleUpdatePost treats a malformed body as an invalid update; NotFound and Forbidden
// still take precedence.
func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	var request updatePostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		empty := ""
		request = updatePostPayload{Title: &empty}
	}
	post, err := h.posts.Update(c.Request.Context(), c.GetString(principalIDContextKey), c.Param("id"), posts.UpdateRequest{
		Title:   request.Title,
		Content: request.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.postPayloads(c.Request.Context(), []posts.Post{post})[0])
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), c.GetString(principalIDContextKey), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
