package sqlstore

import (
	"forum/internal/models"
	"forum/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type tx struct {
	db      *gorm.DB
	clock   *store.Clock
	touched map[string]struct{}
}

func (t *tx) Topic(id string) (*models.Topic, error) {
	var topic models.Topic
	if err := t.db.Where("id = ?", id).First(&topic).Error; err != nil {
		return nil, notFound(err)
	}
	return &topic, nil
}

func (t *tx) Comment(topicID, id string) (*models.Comment, error) {
	var c models.Comment
	if err := t.db.Where("topic_id = ? AND id = ?", topicID, id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (t *tx) Comments(topicID string) ([]models.Comment, error) {
	return loadComments(t.db, topicID)
}

func (t *tx) SaveTopic(topic *models.Topic) error {
	now := t.clock.Now()
	topic.Reactions.Normalize()
	topic.UpdatedAt = now
	if topic.ID == "" {
		topic.ID = uuid.NewString()
		topic.CreatedAt = now
		topic.Version = 1
		return t.db.Create(topic).Error
	}
	read := topic.Version
	topic.Version = read + 1
	res := t.db.Model(&models.Topic{}).
		Where("id = ? AND version = ?", topic.ID, read).
		Select("*").
		UpdateColumns(topic)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *tx) SaveComment(c *models.Comment) error {
	now := t.clock.Now()
	c.Reactions.Normalize()
	c.UpdatedAt = now
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
		c.Version = 1
		if err := t.db.Create(c).Error; err != nil {
			return err
		}
		t.touched[c.TopicID] = struct{}{}
		return nil
	}
	read := c.Version
	c.Version = read + 1
	res := t.db.Model(&models.Comment{}).
		Where("topic_id = ? AND id = ? AND version = ?", c.TopicID, c.ID, read).
		Select("*").
		UpdateColumns(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	t.touched[c.TopicID] = struct{}{}
	return nil
}

// DeleteComment reports ErrConflict when the row is already gone: it was
// read earlier in this transaction, so someone else removed it meanwhile.
func (t *tx) DeleteComment(topicID, id string) error {
	res := t.db.Where("topic_id = ? AND id = ?", topicID, id).Delete(&models.Comment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	t.touched[topicID] = struct{}{}
	return nil
}

// DeleteTopic is version checked: a plain read inside the transaction does
// not stop a concurrent writer from bumping the row.
func (t *tx) DeleteTopic(topic *models.Topic) error {
	res := t.db.Where("id = ? AND version = ?", topic.ID, topic.Version).Delete(&models.Topic{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}
