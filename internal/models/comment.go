package models

import "time"

type Comment struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	TopicID string `json:"topic_id" gorm:"size:36;index"`
	// ParentCommentID is empty for a root-level reply to the topic.
	ParentCommentID string    `json:"parent_comment_id,omitempty" gorm:"size:36"`
	AuthorID        string    `json:"author_id" gorm:"size:64"`
	Body            string    `json:"body" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Reactions Reactions `json:"reactions" gorm:"embedded"`

	Version int64 `json:"version" gorm:"default:0"`
}

// Actor is the caller identity as far as the engine is concerned. An empty
// UserID means nobody is signed in.
type Actor struct {
	UserID     string
	Privileged bool
}

func (a Actor) CanModify(authorID string) bool {
	return a.UserID != "" && (a.Privileged || a.UserID == authorID)
}

type RepairMsg struct {
	TopicID string `json:"topic_id"`
	Reason  string `json:"reason"`
}
