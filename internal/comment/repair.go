package comment

import (
	"context"

	"forum/internal/models"
)

// DirectRepair recounts on the caller's goroutine. It stands in for the
// message queue when none is configured.
type DirectRepair struct {
	Counter *Counter
}

func (d DirectRepair) EnqueueRepair(ctx context.Context, msg models.RepairMsg) error {
	_, err := d.Counter.Recount(ctx, msg.TopicID)
	return err
}
