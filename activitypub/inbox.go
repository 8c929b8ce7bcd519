package activitypub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/util"
)

// DefaultLongAgo is how old an activity may be and still produce a notification.
const DefaultLongAgo = 30 * 24 * time.Hour

// Outcome is what Ingest did with one activity.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeInserted
	OutcomeUpdated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result reports one ingestion. Activity carries local ids when the row exists.
type Result struct {
	Activity domain.Activity
	Outcome  Outcome
	Reason   string
	Err      error
}

// NoOp is true when nothing was written.
func (r Result) NoOp() bool {
	return r.Outcome == OutcomeSkipped
}

// Progress tallies one page of activities for the sync scheduler.
type Progress struct {
	Inserted  int
	Updated   int
	NoOp      int
	Failed    int
	Abandoned int
	Err       error
}

func (p Progress) Total() int {
	return p.Inserted + p.Updated + p.NoOp + p.Failed
}

type EngineConfig struct {
	LongAgo time.Duration
	Fetcher NoteFetcher
	Metrics *Metrics
	Logger  *log.Logger
	Cache   *ActorCache
	Now     func() time.Time
}

// Engine merges incoming activities into the store. Callers serialize ingestion per account.
type Engine struct {
	store    Store
	actors   *ActorResolver
	audience *AudienceCalculator
	groups   *GroupTracker
	fetcher  NoteFetcher
	metrics  *Metrics
	log      *log.Logger
	longAgo  time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	accounts map[int64]bool
}

func NewEngine(store Store, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.LongAgo <= 0 {
		cfg.LongAgo = DefaultLongAgo
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	actors := NewActorResolver(store, cfg.Cache, cfg.Logger, cfg.Metrics)
	return &Engine{
		store:    store,
		actors:   actors,
		audience: NewAudienceCalculator(store, actors, cfg.Logger),
		groups:   NewGroupTracker(store, actors, cfg.Logger),
		fetcher:  cfg.Fetcher,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		longAgo:  cfg.LongAgo,
		now:      cfg.Now,
		accounts: make(map[int64]bool),
	}
}

func (e *Engine) Actors() *ActorResolver { return e.actors }

func (e *Engine) Audience() *AudienceCalculator { return e.audience }

func (e *Engine) Groups() *GroupTracker { return e.groups }

// AddAccount resolves account and counts it as "me" from now on.
func (e *Engine) AddAccount(ctx context.Context, account domain.Actor) (domain.Actor, error) {
	resolved, err := e.actors.Resolve(ctx, account)
	if err != nil {
		return account, err
	}
	e.markMe(resolved.ActorId)
	return resolved, nil
}

func (e *Engine) markMe(id int64) {
	if id == 0 {
		return
	}
	e.mu.Lock()
	e.accounts[id] = true
	e.mu.Unlock()
}

// IsMe reports whether id is one of the accounts activities were observed for.
func (e *Engine) IsMe(id int64) bool {
	if id == 0 {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts[id]
}

// Ingest merges one activity. Repeating the call with the same payload is a no-op.
// Storage failures end up in Result.Err with OutcomeFailed; only ErrInvariant is returned.
// Once started, ingestion of the activity is not cancelled with ctx.
func (e *Engine) Ingest(ctx context.Context, a domain.Activity) (Result, error) {
	if isUIContext(ctx) {
		err := fmt.Errorf("%w: ingest from UI context", ErrInvariant)
		return e.done(Result{Activity: a, Outcome: OutcomeFailed, Reason: "ui context", Err: err}), err
	}
	return e.ingest(context.WithoutCancel(ctx), a, 0)
}

// IngestPage ingests activities in order. A cancelled ctx abandons the remaining items.
func (e *Engine) IngestPage(ctx context.Context, activities []domain.Activity) Progress {
	var p Progress
	for i, a := range activities {
		if err := ctx.Err(); err != nil {
			p.Abandoned = len(activities) - i
			p.Err = errors.Join(p.Err, err)
			e.log.Info("Inbox: page abandoned", "done", i, "abandoned", p.Abandoned)
			break
		}
		res, err := e.Ingest(ctx, a)
		if err != nil {
			p.Err = errors.Join(p.Err, err)
		}
		switch res.Outcome {
		case OutcomeInserted:
			p.Inserted++
		case OutcomeUpdated:
			p.Updated++
		case OutcomeFailed:
			p.Failed++
		default:
			p.NoOp++
		}
	}
	return p
}

func (e *Engine) ingest(ctx context.Context, a domain.Activity, depth int) (Result, error) {
	if depth > domain.MaxRecursing {
		return e.fail(a, "too deep", fmt.Errorf("%w: nesting deeper than %d", ErrInvariant, domain.MaxRecursing))
	}
	if a.AccountActor.IsEmpty() {
		return e.fail(a, "no account", fmt.Errorf("%w: activity without account of record", ErrInvariant))
	}
	if a.AccountActor.Origin.Id == 0 {
		a.AccountActor.Origin = a.Origin
	}
	account, err := e.actors.Resolve(ctx, a.AccountActor)
	if err != nil {
		if errors.Is(err, ErrUnresolvable) {
			err = fmt.Errorf("%w: account of record: %v", ErrInvariant, err)
		}
		return e.fail(a, "account", err)
	}
	e.markMe(account.ActorId)
	a.AccountActor = account
	if a.Origin.Id == 0 {
		a.Origin = account.Origin
	}

	if a.IsForwardReference() {
		return e.forwardReference(ctx, a)
	}

	if a.Actor.IsEmpty() {
		a.Actor = a.Author()
	}
	if a.Actor.IsEmpty() {
		return e.fail(a, "no actor", fmt.Errorf("%w: activity without actor", ErrUnresolvable))
	}
	if a.Actor.Origin.Id == 0 {
		a.Actor.Origin = a.Origin
	}
	if a.Oid == "" {
		a.Oid = a.TempOid()
	}
	if a.Oid == "" {
		return e.fail(a, "no oid", fmt.Errorf("%w: activity without identifiers", ErrUnresolvable))
	}

	existing, err := e.store.ReadActivityByOid(ctx, a.Origin.Id, a.Oid)
	switch {
	case err == nil:
		if a.UpdatedAt.UnixMilli() <= existing.UpdatedAt.UnixMilli() {
			existing.Origin = a.Origin
			return e.skip(existing, "not newer")
		}
		a.ActivityId = existing.ActivityId
	case !errors.Is(err, db.ErrNotFound):
		return e.fail(a, "read activity", err)
	}

	actor, err := e.actors.Resolve(ctx, a.Actor)
	if err != nil {
		return e.fail(a, "actor", err)
	}
	a.Actor = actor

	var noteId int64
	switch a.ObjectType() {
	case domain.ObjectNote:
		if a.Type == domain.ActivityDelete {
			note, err := e.deleteNote(ctx, a)
			if err != nil {
				return e.fail(a, "delete note", err)
			}
			a.SetNote(note)
			noteId = note.NoteId
			break
		}
		note, skipReason, err := e.saveNote(ctx, a, a.Note())
		if err != nil {
			return e.fail(a, "note", err)
		}
		if skipReason != "" {
			return e.skip(a, skipReason)
		}
		a.SetNote(note)
		noteId = note.NoteId
	case domain.ObjectActor:
		objActor := a.ObjectActor()
		if objActor.Origin.Id == 0 {
			objActor.Origin = a.Origin
		}
		if a.Type == domain.ActivityJoin && !objActor.GroupType.IsGroupLike() {
			objActor.GroupType = domain.GroupGeneric
		}
		objActor, err = e.actors.Resolve(ctx, objActor)
		if err != nil {
			return e.fail(a, "object actor", err)
		}
		a.SetObjectActor(objActor)
	case domain.ObjectActivity:
		inner := a.InnerActivity()
		if inner.AccountActor.IsEmpty() {
			inner.AccountActor = a.AccountActor
		}
		if inner.Origin.Id == 0 {
			inner.Origin = a.Origin
		}
		res, err := e.ingest(ctx, inner, depth+1)
		if err != nil {
			return e.fail(a, "inner activity", err)
		}
		if res.Outcome == OutcomeFailed {
			return e.fail(a, "inner activity", res.Err)
		}
		if res.Activity.ActivityId == 0 {
			return e.fail(a, "inner activity", fmt.Errorf("%w: inner activity not stored: %v", ErrUnresolvable, res.Err))
		}
		a.SetActivity(res.Activity)
		noteId = res.Activity.Note().NoteId
	}

	if a.ActivityId == 0 && a.Type.IsToggle() && noteId != 0 {
		if reason, err := e.toggleGuard(ctx, a, noteId); err != nil {
			return e.fail(a, "toggle guard", err)
		} else if reason != "" {
			return e.skip(a, reason)
		}
	}

	if err := e.applyVerb(ctx, a); err != nil {
		return e.fail(a, a.Type.String(), err)
	}

	if err := e.calculateInteraction(ctx, &a, noteId); err != nil {
		return e.fail(a, "interaction", err)
	}
	a.Notified = domain.UNKNOWN
	if a.Interaction.IsInteracted() {
		a.Notified = domain.TRUE
		if existing.ActivityId != 0 && existing.Interaction == a.Interaction && existing.Notified.Known() {
			a.Notified = existing.Notified
		}
	}

	if a.ActivityId != 0 {
		if err := e.store.UpdateActivity(ctx, a); err != nil {
			return e.fail(a, "update activity", err)
		}
		return e.done(Result{Activity: a, Outcome: OutcomeUpdated}), nil
	}
	id, err := e.store.InsertActivity(ctx, a)
	if err != nil {
		return e.fail(a, "insert activity", err)
	}
	a.ActivityId = id
	if err := e.applyMyFlags(ctx, a, noteId); err != nil {
		e.log.Error("Inbox: note flags not updated", "activity", a.Oid, "err", err)
	}
	return e.done(Result{Activity: a, Outcome: OutcomeInserted}), nil
}

// forwardReference handles an activity known by oid only. It never recurses.
func (e *Engine) forwardReference(ctx context.Context, a domain.Activity) (Result, error) {
	existing, err := e.store.ReadActivityByOid(ctx, a.Origin.Id, a.Oid)
	if err == nil {
		existing.Origin = a.Origin
		return e.skip(existing, "already known")
	}
	if !errors.Is(err, db.ErrNotFound) {
		return e.fail(a, "read activity", err)
	}

	note := a.Note()
	if note.Oid == "" {
		return e.fail(a, "forward reference", fmt.Errorf("%w: forward reference without note", ErrUnresolvable))
	}
	if note.Origin.Id == 0 {
		note.Origin = a.Origin
	}
	noteId, err := e.store.ReadNoteIdByOid(ctx, note.Origin.Id, note.Oid)
	if err != nil {
		return e.fail(a, "read note", err)
	}
	status := domain.NoteAbsent
	if noteId != 0 {
		stored, err := e.store.ReadNoteById(ctx, noteId)
		if err != nil {
			return e.fail(a, "read note", err)
		}
		note, status = stored, stored.Status

		placeholder, err := e.store.ReadPlaceholderActivity(ctx, a.Origin.Id, noteId)
		switch {
		case err == nil:
			placeholder.Origin = a.Origin
			previous := placeholder.Oid
			placeholder.Oid = a.Oid
			if err := e.store.UpdateActivity(ctx, placeholder); err != nil {
				return e.fail(a, "promote oid", err)
			}
			e.log.Info("Inbox: activity oid promoted", "id", placeholder.ActivityId, "from", previous, "to", a.Oid)
			e.requestIfMissing(ctx, note, status)
			return e.done(Result{Activity: placeholder, Outcome: OutcomeUpdated}), nil
		case !errors.Is(err, db.ErrNotFound):
			return e.fail(a, "read placeholder", err)
		}
	} else {
		note.Status = status
		if noteId, err = e.store.InsertNote(ctx, note); err != nil {
			return e.fail(a, "insert note", err)
		}
		note.NoteId = noteId
	}

	placeholder := domain.NewActivity(a.Origin, a.AccountActor, domain.ActivityUpdate)
	placeholder.Oid = a.Oid
	placeholder.Actor = note.Author
	placeholder.SetNote(domain.Note{NoteId: noteId, Oid: note.Oid, Origin: note.Origin})
	id, err := e.store.InsertActivity(ctx, placeholder)
	if err != nil {
		return e.fail(a, "insert placeholder", err)
	}
	placeholder.ActivityId = id
	e.requestIfMissing(ctx, note, status)
	return e.done(Result{Activity: placeholder, Outcome: OutcomeInserted}), nil
}

// saveNote stores what a carries about note. A non-empty reason means the activity must be skipped.
func (e *Engine) saveNote(ctx context.Context, a domain.Activity, note domain.Note) (domain.Note, string, error) {
	if note.Origin.Id == 0 {
		note.Origin = a.Origin
	}
	if note.NoteId == 0 {
		if note.Oid == "" {
			return note, "", fmt.Errorf("%w: note without identifiers", ErrUnresolvable)
		}
		id, err := e.store.ReadNoteIdByOid(ctx, note.Origin.Id, note.Oid)
		if err != nil {
			return note, "", err
		}
		note.NoteId = id
	}
	var stored domain.Note
	found := note.NoteId != 0
	if found {
		var err error
		stored, err = e.store.ReadNoteById(ctx, note.NoteId)
		if errors.Is(err, db.ErrNotFound) {
			return note, "", fmt.Errorf("%w: no note with id %d", ErrUnresolvable, note.NoteId)
		}
		if err != nil {
			return note, "", err
		}
	}

	author := note.Author
	if author.IsEmpty() && (a.Type == domain.ActivityCreate || a.Type == domain.ActivityUpdate) {
		author = a.Actor
	}
	if !author.IsEmpty() {
		if author.Origin.Id == 0 {
			author.Origin = note.Origin
		}
		resolved, err := e.actors.Resolve(ctx, author)
		switch {
		case err == nil:
			author = resolved
		case errors.Is(err, ErrUnresolvable) && found:
			author = stored.Author
		default:
			return note, "", err
		}
	} else if found {
		author = stored.Author
	}
	note.Author = author

	if !note.HasContent() {
		if found {
			if stored.Author.ActorId == 0 && author.ActorId != 0 {
				stored.Author = author
				if err := e.store.UpdateNote(ctx, stored); err != nil {
					return stored, "", err
				}
			}
			return stored, "", nil
		}
		note.Status = domain.NoteAbsent
		id, err := e.store.InsertNote(ctx, note)
		if err != nil {
			return note, "", err
		}
		note.NoteId = id
		e.requestIfMissing(ctx, note, note.Status)
		return note, "", nil
	}

	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = a.UpdatedAt
	}
	if found {
		if !stored.Status.AcceptsRemoteContent() {
			return stored, "note is " + stored.Status.String(), nil
		}
		if stored.Status.IsLoaded() && note.UpdatedAt.UnixMilli() <= stored.UpdatedAt.UnixMilli() {
			return stored, "", nil
		}
	}

	note.Status = domain.NoteLoaded
	note.Content = util.StripMarkup(note.Content)
	if note.InReplyToOid != "" && note.InReplyToNoteId == 0 {
		id, err := e.store.ReadNoteIdByOid(ctx, note.Origin.Id, note.InReplyToOid)
		if err != nil {
			return note, "", err
		}
		note.InReplyToNoteId = id
	}
	visibility := e.audience.VisibilityFor(note.Audience, author, note.Origin, domain.VisibilityUnknown)
	note.Audience.Visibility = visibility

	if found {
		note.FavoritedByMe, note.RebloggedByMe = stored.FavoritedByMe, stored.RebloggedByMe
		if err := e.store.UpdateNote(ctx, note); err != nil {
			return note, "", err
		}
	} else {
		id, err := e.store.InsertNote(ctx, note)
		if err != nil {
			return note, "", err
		}
		note.NoteId = id
	}
	if _, err := e.audience.Save(ctx, note.Audience, author, note.NoteId, visibility); err != nil {
		return note, "", err
	}
	return note, "", nil
}

// deleteNote marks the object of a Delete as gone, recording a tombstone for notes never seen.
func (e *Engine) deleteNote(ctx context.Context, a domain.Activity) (domain.Note, error) {
	note := a.Note()
	if note.Origin.Id == 0 {
		note.Origin = a.Origin
	}
	if note.NoteId == 0 {
		if note.Oid == "" {
			return note, fmt.Errorf("%w: note without identifiers", ErrUnresolvable)
		}
		id, err := e.store.ReadNoteIdByOid(ctx, note.Origin.Id, note.Oid)
		if err != nil {
			return note, err
		}
		note.NoteId = id
	}
	if note.NoteId != 0 {
		return note, e.store.MarkNoteDeleted(ctx, note.NoteId, a.UpdatedAt)
	}
	tombstone := domain.NewNote(note.Origin, note.Oid)
	tombstone.Status = domain.NoteDeleted
	tombstone.Author = a.Actor
	tombstone.UpdatedAt = a.UpdatedAt
	id, err := e.store.InsertNote(ctx, tombstone)
	tombstone.NoteId = id
	return tombstone, err
}

// toggleGuard returns a reason when a Like/Announce toggle would not change the net state.
func (e *Engine) toggleGuard(ctx context.Context, a domain.Activity, noteId int64) (string, error) {
	complement, _ := a.Type.Complement()
	prior, err := e.store.ReadLatestNoteActivityType(ctx, a.Actor.ActorId, noteId, a.Type, complement)
	if err != nil {
		return "", err
	}
	switch {
	case prior == a.Type:
		return "already " + a.Type.String(), nil
	case prior == domain.ActivityUnknown && a.Type.IsUndo():
		return a.Type.String() + " without prior " + complement.String(), nil
	}
	return "", nil
}

func (e *Engine) applyVerb(ctx context.Context, a domain.Activity) error {
	switch a.Type {
	case domain.ActivityFollow, domain.ActivityUndoFollow:
		if a.ObjectType() != domain.ObjectActor {
			return nil
		}
		return e.groups.OnFollow(ctx, a.Actor, a.ObjectActor(), a.Type == domain.ActivityFollow)
	case domain.ActivityJoin:
		if a.ObjectType() != domain.ObjectActor {
			return nil
		}
		_, err := e.groups.SetMember(ctx, a.ObjectActor(), a.Actor, domain.TRUE)
		return err
	}
	return nil
}

// applyMyFlags recomputes the favorited and reblogged flags of a note from the newest thing "me" did to it.
func (e *Engine) applyMyFlags(ctx context.Context, a domain.Activity, noteId int64) error {
	if noteId == 0 || !e.IsMe(a.Actor.ActorId) {
		return nil
	}
	switch a.Type {
	case domain.ActivityLike, domain.ActivityUndoLike:
		latest, err := e.store.ReadLatestNoteActivityType(ctx, a.Actor.ActorId, noteId, domain.ActivityLike, domain.ActivityUndoLike)
		if err != nil {
			return err
		}
		return e.store.SetNoteFavorited(ctx, noteId, domain.TriStateFromBool(latest == domain.ActivityLike))
	case domain.ActivityAnnounce, domain.ActivityUndoAnnounce:
		latest, err := e.store.ReadLatestNoteActivityType(ctx, a.Actor.ActorId, noteId, domain.ActivityAnnounce, domain.ActivityUndoAnnounce)
		if err != nil {
			return err
		}
		return e.store.SetNoteReblogged(ctx, noteId, domain.TriStateFromBool(latest == domain.ActivityAnnounce))
	}
	return nil
}

func (e *Engine) requestIfMissing(ctx context.Context, note domain.Note, status domain.NoteStatus) {
	if e.fetcher == nil || status.IsLoaded() || !status.AcceptsRemoteContent() || note.Oid == "" {
		return
	}
	if err := e.fetcher.RequestNote(ctx, note.Origin, note.Oid); err != nil {
		e.log.Warn("Inbox: fetch request failed", "oid", note.Oid, "err", err)
	}
}

func (e *Engine) skip(a domain.Activity, reason string) (Result, error) {
	e.log.Debug("Inbox: skipped", "activity", a.Oid, "type", a.Type, "reason", reason)
	return e.done(Result{Activity: a, Outcome: OutcomeSkipped, Reason: reason}), nil
}

// fail maps err onto the taxonomy: unresolvable references are skipped, invariant violations
// are returned, anything else is a storage failure for this item only.
func (e *Engine) fail(a domain.Activity, reason string, err error) (Result, error) {
	switch {
	case errors.Is(err, ErrInvariant):
		e.log.Error("Inbox: invariant violated", "activity", a.Oid, "reason", reason, "err", err)
		return e.done(Result{Activity: a, Outcome: OutcomeFailed, Reason: reason, Err: err}), err
	case errors.Is(err, ErrUnresolvable):
		e.log.Info("Inbox: unresolvable", "activity", a.Oid, "type", a.Type, "reason", reason, "err", err)
		return e.done(Result{Activity: a, Outcome: OutcomeSkipped, Reason: reason, Err: err}), nil
	default:
		e.log.Error("Inbox: storage failure", "activity", a.Oid, "type", a.Type, "reason", reason, "err", err)
		a.ActivityId = 0
		return e.done(Result{Activity: a, Outcome: OutcomeFailed, Reason: reason, Err: err}), nil
	}
}

func (e *Engine) done(res Result) Result {
	e.metrics.ingested(res.Activity.Type.String(), res.Outcome)
	return res
}
