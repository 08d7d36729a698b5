package validators

type CreateTopicRequest struct {
	Title    string `json:"title" binding:"required,max=200"`
	Body     string `json:"body" binding:"max=20000"`
	Category string `json:"category" binding:"required"`
}

// UpdateTopicRequest leaves fields that are absent unchanged.
type UpdateTopicRequest struct {
	Title    *string `json:"title" binding:"omitempty,max=200"`
	Body     *string `json:"body" binding:"omitempty,max=20000"`
	Category *string `json:"category"`
}

type CreateCommentRequest struct {
	ParentID string `json:"parent_id"`
	Body     string `json:"body" binding:"required"`
}

type UpdateCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

type ReactionRequest struct {
	Kind string `json:"kind" binding:"required,oneof=like thank"`
}
