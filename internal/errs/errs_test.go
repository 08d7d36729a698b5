package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReactionConflictMatches(t *testing.T) {
	cause := errors.New("txn conflict")
	var err error = &ReactionConflict{Entity: "topic:t1", Kind: "like", Attempts: 5, Err: cause}

	assert.ErrorIs(t, err, ErrReactionConflict)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSubscriptionFault)
	assert.Contains(t, err.Error(), "after 5 attempts")

	var rc *ReactionConflict
	assert.True(t, errors.As(err, &rc))
	assert.Equal(t, "like", rc.Kind)
}

func TestSubscriptionFaultMatches(t *testing.T) {
	err := &SubscriptionFault{TopicID: "t1", Attempts: 3, Persistent: true, Err: errors.New("eof")}
	assert.ErrorIs(t, err, ErrSubscriptionFault)
	assert.Contains(t, err.Error(), "topic t1")
}

func TestInvalid(t *testing.T) {
	err := Invalid("body %s", "empty")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "invalid input: body empty", err.Error())
}
