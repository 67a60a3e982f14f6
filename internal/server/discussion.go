package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/gin-gonic/gin"
)

type createCommentPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	views, err := h.comments.List(c.Request.Context(), c.Param("postId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	var request createCommentPayload
	// An unreadable body is left empty and rejected as invalid content after the
	// credential check.
	_ = c.ShouldBindJSON(&request)

	view, err := h.comments.Create(c.Request.Context(), comments.CreateRequest{
		PostID:     c.Param("postId"),
		Content:    request.Content,
		Credential: bearerCredential(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}
