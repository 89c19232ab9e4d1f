package chatports

import (
	"context"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
)

// Notifier surfaces modal-style notices to the user.
type Notifier interface {
	RateLimited(ctx context.Context, turn model.Turn)
}
