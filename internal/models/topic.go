package models

import (
	"fmt"
	"time"
)

type Category string

const (
	CategoryTeachers  Category = "teachers"
	CategoryStudents  Category = "students"
	CategoryResources Category = "resources"
	CategoryGeneral   Category = "general"
)

var Categories = []Category{CategoryTeachers, CategoryStudents, CategoryResources, CategoryGeneral}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type Topic struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	AuthorID  string    `json:"author_id" gorm:"size:64;index"`
	Title     string    `json:"title" gorm:"size:200"`
	Body      string    `json:"body" gorm:"type:text"`
	Category  Category  `json:"category" gorm:"size:20;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Reactions Reactions `json:"reactions" gorm:"embedded"`

	// ReplyCount is advisory. The authoritative count is the size of the
	// forest built from the topic's live comments.
	ReplyCount int `json:"reply_count" gorm:"default:0"`

	Version int64 `json:"version" gorm:"default:0"`
}

// TopicPatch carries the editable fields of a topic; nil means unchanged.
type TopicPatch struct {
	Title    *string   `json:"title,omitempty"`
	Body     *string   `json:"body,omitempty"`
	Category *Category `json:"category,omitempty"`
}

type TopicQuery struct {
	Category Category
	AuthorID string
}

func (q TopicQuery) Matches(t *Topic) bool {
	if q.Category != "" && t.Category != q.Category {
		return false
	}
	if q.AuthorID != "" && t.AuthorID != q.AuthorID {
		return false
	}
	return true
}
