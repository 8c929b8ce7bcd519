package activitypub

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	notes map[string]WireNote
	calls int
}

func (d *fakeDownloader) DownloadNote(_ context.Context, _ domain.Origin, oid string) (WireNote, error) {
	d.calls++
	note, ok := d.notes[oid]
	if !ok {
		return WireNote{}, errors.New("410 gone")
	}
	return note, nil
}

func pendingAttempts(t *testing.T, env *testEnv) int {
	t.Helper()
	var attempts int
	require.NoError(t, env.store.SQL().QueryRow(`SELECT attempts FROM fetch_queue`).Scan(&attempts))
	return attempts
}

func TestFetchWorkerLoadsAbsentNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.actor("https://example.com/users/bob", "bob")
	noteOid := "https://example.com/notes/42"

	env.ingest(t, env.onNote(domain.ActivityLike, "https://example.com/likes/1", bob, noteOid, env.now.Add(-time.Minute)))
	require.Equal(t, []string{noteOid}, env.fetcher.requested())
	require.NoError(t, env.store.EnqueueFetch(ctx, env.origin.Id, noteOid, domain.ObjectNote))

	downloader := &fakeDownloader{notes: map[string]WireNote{
		noteOid: {
			ID:           noteOid,
			Type:         "Note",
			Content:      "Fetched   later",
			AttributedTo: []byte(`"https://example.com/users/bob"`),
			Published:    env.now.Add(-time.Hour).Format(time.RFC3339),
			To:           []string{domain.PublicCollection},
		},
	}}
	worker := NewFetchWorker(env.store, downloader, env.engine, []domain.Actor{env.alice}, log.New(io.Discard))

	merged, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.EqualValues(t, 0, count(t, env.store.CountFetches))

	noteId, err := env.store.ReadNoteIdByOid(ctx, env.origin.Id, noteOid)
	require.NoError(t, err)
	note, err := env.store.ReadNoteById(ctx, noteId)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteLoaded, note.Status)
	assert.Equal(t, "Fetched later", note.Content)
	assert.EqualValues(t, 1, count(t, env.store.CountNotes))

	merged, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, merged)
	assert.Equal(t, 1, downloader.calls)
}

func TestFetchWorkerRefreshesFromUndatedNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.actor("https://example.com/users/bob", "bob")
	noteOid := "https://example.com/notes/43"
	created := env.ingest(t, env.create("https://example.com/activities/43", bob, noteOid, "old", env.now.Add(-time.Hour), domain.PublicActor()))
	noteId := created.Activity.Note().NoteId
	require.NoError(t, env.store.EnqueueFetch(ctx, env.origin.Id, noteOid, domain.ObjectNote))

	downloader := &fakeDownloader{notes: map[string]WireNote{
		noteOid: {
			ID:           noteOid,
			Type:         "Note",
			Content:      "refreshed",
			AttributedTo: []byte(`"https://example.com/users/bob"`),
		},
	}}
	worker := NewFetchWorker(env.store, downloader, env.engine, []domain.Actor{env.alice}, log.New(io.Discard))

	merged, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	note, err := env.store.ReadNoteById(ctx, noteId)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", note.Content)
	assert.True(t, env.now.Equal(note.UpdatedAt), "updated at %s", note.UpdatedAt)
}

func TestFetchWorkerPostponesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.EnqueueFetch(ctx, env.origin.Id, "https://example.com/notes/gone", domain.ObjectNote))
	worker := NewFetchWorker(env.store, &fakeDownloader{}, env.engine, []domain.Actor{env.alice}, log.New(io.Discard))

	merged, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, merged)
	assert.EqualValues(t, 1, count(t, env.store.CountFetches))
	assert.Equal(t, 1, pendingAttempts(t, env))

	pending, err := env.store.ReadPendingFetches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "postponed request is not due yet")
}

func TestFetchWorkerGivesUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.EnqueueFetch(ctx, env.origin.Id, "https://example.com/notes/gone", domain.ObjectNote))
	pending, err := env.store.ReadPendingFetches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, env.store.UpdateFetchAttempt(ctx, pending[0].Id, maxFetchAttempts-1, time.Now().Add(-time.Minute)))

	worker := NewFetchWorker(env.store, &fakeDownloader{}, env.engine, []domain.Actor{env.alice}, log.New(io.Discard))
	_, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count(t, env.store.CountFetches))
}

func TestFetchWorkerNeedsAccountForOrigin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	noteOid := "https://example.com/notes/7"
	require.NoError(t, env.store.EnqueueFetch(ctx, env.origin.Id, noteOid, domain.ObjectNote))
	downloader := &fakeDownloader{notes: map[string]WireNote{noteOid: {ID: noteOid, Type: "Note", Content: "x"}}}
	worker := NewFetchWorker(env.store, downloader, env.engine, nil, log.New(io.Discard))

	merged, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, merged)
	assert.Zero(t, downloader.calls)
	assert.Equal(t, 1, pendingAttempts(t, env))
}

func TestQueueFetcherCollapsesRequests(t *testing.T) {
	store, origin := newTestStore(t)
	fetcher := NewQueueFetcher(store, log.New(io.Discard))
	ctx := context.Background()

	require.NoError(t, fetcher.RequestNote(ctx, origin, "https://example.com/notes/1"))
	require.NoError(t, fetcher.RequestNote(ctx, origin, "https://example.com/notes/1"))
	require.NoError(t, fetcher.RequestNote(ctx, origin, "https://example.com/notes/2"))
	assert.EqualValues(t, 2, count(t, store.CountFetches))

	pending, err := store.ReadPendingFetches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.ObjectNote, pending[0].ObjectType)
	assert.Equal(t, "https://example.com/notes/1", pending[0].Oid)
}
