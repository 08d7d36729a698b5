package handlers

import (
	"net/http"

	"forum/internal/svc"
	"forum/internal/utils"
	"forum/internal/validators"

	"github.com/gin-gonic/gin"
)

type CommentHandler struct {
	svc *svc.ServiceContext
}

func NewCommentHandler(sc *svc.ServiceContext) *CommentHandler {
	return &CommentHandler{svc: sc}
}

func (h *CommentHandler) CreateComment(c *gin.Context) {
	userID, err := utils.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req validators.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "invalid comment: "+err.Error())
		return
	}

	topicID := c.Param("id")
	id, err := h.svc.Comments.Submit(c.Request.Context(), topicID, req.ParentID, req.Body, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.svc.Topics.Invalidate(c.Request.Context(), topicID)
	utils.Created(c, gin.H{"id": id})
}

func (h *CommentHandler) UpdateComment(c *gin.Context) {
	var req validators.UpdateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "invalid comment: "+err.Error())
		return
	}
	cm, err := h.svc.Comments.Edit(c.Request.Context(), utils.GetActor(c), c.Param("id"), c.Param("commentId"), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, cm)
}

func (h *CommentHandler) DeleteComment(c *gin.Context) {
	topicID := c.Param("id")
	if err := h.svc.Comments.Delete(c.Request.Context(), utils.GetActor(c), topicID, c.Param("commentId")); err != nil {
		respondError(c, err)
		return
	}
	h.svc.Topics.Invalidate(c.Request.Context(), topicID)
	utils.Success(c, nil)
}
