package stocktake

import (
	"context"
	"time"
)

// PostedEvent captures what downstream consumers need after a stock take
// posts, primarily the adjustment generation task.
type PostedEvent struct {
	DocNo    string
	SiteCode string
	ActorID  int64
	Warnings int
	PostedAt time.Time
}

// IntegrationHandler receives stock take domain events. In production the
// handler enqueues background work; tests plug in a recorder.
type IntegrationHandler interface {
	HandleStockTakePosted(ctx context.Context, evt PostedEvent) error
}
