package badgerstore

import (
	"encoding/json"
	"errors"

	"forum/internal/models"
	"forum/internal/store"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type tx struct {
	txn     *badger.Txn
	clock   *store.Clock
	touched map[string]struct{}
}

func (t *tx) get(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func (t *tx) put(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, b)
}

func (t *tx) Topic(id string) (*models.Topic, error) {
	var topic models.Topic
	if err := t.get(topicKey(id), &topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

func (t *tx) Comment(topicID, id string) (*models.Comment, error) {
	var c models.Comment
	if err := t.get(commentKey(topicID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) Comments(topicID string) ([]models.Comment, error) {
	return scanComments(t.txn, topicID)
}

func (t *tx) SaveTopic(topic *models.Topic) error {
	now := t.clock.Now()
	if topic.ID == "" {
		topic.ID = uuid.NewString()
		topic.CreatedAt = now
	}
	topic.UpdatedAt = now
	topic.Version++
	topic.Reactions.Normalize()
	return t.put(topicKey(topic.ID), topic)
}

func (t *tx) SaveComment(c *models.Comment) error {
	now := t.clock.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version++
	c.Reactions.Normalize()
	if err := t.put(commentKey(c.TopicID, c.ID), c); err != nil {
		return err
	}
	t.touched[c.TopicID] = struct{}{}
	return nil
}

func (t *tx) DeleteComment(topicID, id string) error {
	if err := t.txn.Delete(commentKey(topicID, id)); err != nil {
		return err
	}
	t.touched[topicID] = struct{}{}
	return nil
}

func (t *tx) DeleteTopic(topic *models.Topic) error {
	var stored models.Topic
	if err := t.get(topicKey(topic.ID), &stored); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrConflict
		}
		return err
	}
	if stored.Version != topic.Version {
		return store.ErrConflict
	}
	return t.txn.Delete(topicKey(topic.ID))
}
