package activitypub

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/domain"
)

// NoteFetcher asks the transport side to download a note we only know by oid.
// Implementations must not block on the network.
type NoteFetcher interface {
	RequestNote(ctx context.Context, origin domain.Origin, oid string) error
}

type fetchQueue interface {
	EnqueueFetch(ctx context.Context, originId int64, oid string, objectType domain.ObjectType) error
}

// QueueFetcher records requests in the durable fetch queue; a transport worker drains it.
type QueueFetcher struct {
	queue fetchQueue
	log   *log.Logger
}

func NewQueueFetcher(queue fetchQueue, logger *log.Logger) *QueueFetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &QueueFetcher{queue: queue, log: logger}
}

func (f *QueueFetcher) RequestNote(ctx context.Context, origin domain.Origin, oid string) error {
	if err := f.queue.EnqueueFetch(ctx, origin.Id, oid, domain.ObjectNote); err != nil {
		return err
	}
	f.log.Debug("Fetch: note queued", "origin", origin.Name, "oid", oid)
	return nil
}
