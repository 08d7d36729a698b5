package handlers

import (
	"net/http"
	"strings"

	"forum/internal/models"
	"forum/internal/svc"
	"forum/internal/utils"
	"forum/internal/validators"

	"github.com/gin-gonic/gin"
)

type TopicHandler struct {
	svc *svc.ServiceContext
}

func NewTopicHandler(sc *svc.ServiceContext) *TopicHandler {
	return &TopicHandler{svc: sc}
}

func (h *TopicHandler) CreateTopic(c *gin.Context) {
	var req validators.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "invalid topic: "+err.Error())
		return
	}
	topic, err := h.svc.Topics.Create(c.Request.Context(), utils.GetActor(c), req.Title, req.Body, models.Category(req.Category))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, topic)
}

// ListTopics accepts ?category= and ?author=; author=me lists the caller's
// own topics.
func (h *TopicHandler) ListTopics(c *gin.Context) {
	q := models.TopicQuery{
		Category: models.Category(strings.TrimSpace(c.Query("category"))),
		AuthorID: strings.TrimSpace(c.Query("author")),
	}
	if q.AuthorID == "me" {
		uid, err := utils.GetUserID(c)
		if err != nil {
			respondError(c, err)
			return
		}
		q.AuthorID = uid
	}
	topics, err := h.svc.Topics.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, topics)
}

func (h *TopicHandler) GetTopic(c *gin.Context) {
	topic, err := h.svc.Topics.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, topic)
}

func (h *TopicHandler) UpdateTopic(c *gin.Context) {
	var req validators.UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusUnprocessableEntity, "invalid topic: "+err.Error())
		return
	}
	patch := models.TopicPatch{Title: req.Title, Body: req.Body}
	if req.Category != nil {
		cat := models.Category(*req.Category)
		patch.Category = &cat
	}
	topic, err := h.svc.Topics.Edit(c.Request.Context(), utils.GetActor(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, topic)
}

func (h *TopicHandler) DeleteTopic(c *gin.Context) {
	n, err := h.svc.Topics.Delete(c.Request.Context(), utils.GetActor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, gin.H{"deleted_comments": n})
}

// Recount repairs the reply counter. Privileged callers only; queued when a
// message broker is configured.
func (h *TopicHandler) Recount(c *gin.Context) {
	actor := utils.GetActor(c)
	if !actor.Privileged {
		utils.Error(c, http.StatusForbidden, "privileged role required")
		return
	}
	id := c.Param("id")
	if _, err := h.svc.Topics.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	if h.svc.Repairs != nil {
		msg := models.RepairMsg{TopicID: id, Reason: "requested by " + actor.UserID}
		if err := h.svc.Repairs.EnqueueRepair(c.Request.Context(), msg); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, utils.Response{Code: 0, Message: "recount queued"})
		return
	}

	n, err := h.svc.Counter.Recount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.svc.Topics.Invalidate(c.Request.Context(), id)
	utils.Success(c, gin.H{"reply_count": n})
}
