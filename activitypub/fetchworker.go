package activitypub

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/domain"
)

const maxFetchAttempts = 10

var fetchBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Downloader is the transport side of the fetch queue: it retrieves a note by oid.
type Downloader interface {
	DownloadNote(ctx context.Context, origin domain.Origin, oid string) (WireNote, error)
}

// FetchQueue is the durable queue the worker drains.
type FetchQueue interface {
	ReadPendingFetches(ctx context.Context, limit int) ([]domain.FetchRequest, error)
	UpdateFetchAttempt(ctx context.Context, id int64, attempts int, nextRetryAt time.Time) error
	DeleteFetch(ctx context.Context, id int64) error
	ReadOriginById(ctx context.Context, id int64) (domain.Origin, error)
}

// FetchWorker downloads queued notes and merges them through the engine.
type FetchWorker struct {
	queue      FetchQueue
	downloader Downloader
	engine     *Engine
	accounts   map[int64]domain.Actor // account of record per origin id
	log        *log.Logger
	batch      int
}

func NewFetchWorker(queue FetchQueue, downloader Downloader, engine *Engine, accounts []domain.Actor, logger *log.Logger) *FetchWorker {
	if logger == nil {
		logger = log.Default()
	}
	byOrigin := make(map[int64]domain.Actor, len(accounts))
	for _, account := range accounts {
		byOrigin[account.Origin.Id] = account
	}
	return &FetchWorker{queue: queue, downloader: downloader, engine: engine, accounts: byOrigin, log: logger, batch: 50}
}

// Start drains the queue every interval until ctx is done.
func (w *FetchWorker) Start(ctx context.Context, interval time.Duration) {
	w.log.Info("Starting fetch worker...", "interval", interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.ProcessOnce(ctx); err != nil {
					w.log.Error("FetchWorker: failed to read queue", "err", err)
				}
			}
		}
	}()
}

// ProcessOnce handles one batch of due requests and returns how many were merged.
func (w *FetchWorker) ProcessOnce(ctx context.Context) (int, error) {
	items, err := w.queue.ReadPendingFetches(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	w.log.Debug("FetchWorker: processing", "count", len(items))

	merged := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := w.fetch(ctx, item); err != nil {
			w.retryLater(ctx, item, err)
			continue
		}
		merged++
		if err := w.queue.DeleteFetch(ctx, item.Id); err != nil {
			w.log.Error("FetchWorker: failed to drop request", "id", item.Id, "err", err)
		}
	}
	return merged, nil
}

func (w *FetchWorker) fetch(ctx context.Context, item domain.FetchRequest) error {
	if item.ObjectType != domain.ObjectNote {
		return fmt.Errorf("%w: cannot fetch %s", ErrUnresolvable, item.ObjectType)
	}
	account, ok := w.accounts[item.OriginId]
	if !ok {
		return fmt.Errorf("%w: no account for origin %d", ErrUnresolvable, item.OriginId)
	}
	origin, err := w.queue.ReadOriginById(ctx, item.OriginId)
	if err != nil {
		return err
	}
	wn, err := w.downloader.DownloadNote(ctx, origin, item.Oid)
	if err != nil {
		return err
	}
	note, err := wn.toNote(origin, nil, nil)
	if err != nil {
		return err
	}
	if note.Oid == "" {
		note.Oid = item.Oid
	}

	a := domain.NewActivity(origin, account, domain.ActivityUpdate)
	a.Actor = note.Author
	a.UpdatedAt = note.UpdatedAt
	if a.UpdatedAt.IsZero() {
		// an undated download is the current state of the note
		a.UpdatedAt = w.engine.now().UTC().Truncate(time.Millisecond)
	}
	a.SetNote(note)
	res, err := w.engine.Ingest(ctx, a)
	if err != nil {
		return err
	}
	if res.Outcome == OutcomeFailed {
		return res.Err
	}
	return nil
}

func (w *FetchWorker) retryLater(ctx context.Context, item domain.FetchRequest, cause error) {
	item.Attempts++
	if item.Attempts >= maxFetchAttempts {
		w.log.Warn("FetchWorker: giving up", "oid", item.Oid, "attempts", item.Attempts, "err", cause)
		if err := w.queue.DeleteFetch(ctx, item.Id); err != nil {
			w.log.Error("FetchWorker: failed to drop request", "id", item.Id, "err", err)
		}
		return
	}
	backoff := time.Duration(fetchBackoffMinutes[min(item.Attempts-1, len(fetchBackoffMinutes)-1)]) * time.Minute
	w.log.Info("FetchWorker: fetch failed", "oid", item.Oid, "attempt", item.Attempts, "retryIn", backoff, "err", cause)
	if err := w.queue.UpdateFetchAttempt(ctx, item.Id, item.Attempts, time.Now().Add(backoff)); err != nil {
		w.log.Error("FetchWorker: failed to postpone request", "id", item.Id, "err", err)
	}
}
