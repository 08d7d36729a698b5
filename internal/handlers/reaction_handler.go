package handlers

import (
	"net/http"

	"forum/internal/models"
	"forum/internal/svc"
	"forum/internal/utils"
	"forum/internal/validators"

	"github.com/gin-gonic/gin"
)

type ReactionHandler struct {
	svc *svc.ServiceContext
}

func NewReactionHandler(sc *svc.ServiceContext) *ReactionHandler {
	return &ReactionHandler{svc: sc}
}

func (h *ReactionHandler) ReactToTopic(c *gin.Context) {
	h.toggle(c, models.EntityRef{TopicID: c.Param("id")})
}

func (h *ReactionHandler) ReactToComment(c *gin.Context) {
	h.toggle(c, models.EntityRef{TopicID: c.Param("id"), CommentID: c.Param("commentId")})
}

func (h *ReactionHandler) toggle(c *gin.Context, ref models.EntityRef) {
	var req validators.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "kind must be like or thank")
		return
	}
	userID := utils.GetActor(c).UserID

	active, err := h.svc.Ledger.Toggle(c.Request.Context(), ref, models.ReactionKind(req.Kind), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if ref.IsTopic() {
		h.svc.Topics.Invalidate(c.Request.Context(), ref.TopicID)
	}
	utils.Success(c, gin.H{"entity": ref, "kind": req.Kind, "active": active})
}
