package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

func TestInsertAndReadActivity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)
	actor, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "bob"})
	noteId := insertTestNote(t, db, origin, "n1", actor)

	like := domain.NewActivity(origin, domain.Actor{ActorId: actor}, domain.ActivityLike)
	like.Oid = "like-1"
	like.Actor = domain.Actor{ActorId: actor}
	like.SetNote(domain.Note{NoteId: noteId})
	like.UpdatedAt = time.Now().Truncate(time.Millisecond)
	like.Interaction = domain.NotificationLike
	like.Notified = domain.TRUE

	id, err := db.InsertActivity(ctx, like)
	if err != nil {
		t.Fatalf("InsertActivity failed: %v", err)
	}
	read, err := db.ReadActivityByOid(ctx, origin.Id, "like-1")
	if err != nil {
		t.Fatalf("ReadActivityByOid failed: %v", err)
	}
	if read.ActivityId != id || read.Type != domain.ActivityLike || read.Note().NoteId != noteId {
		t.Errorf("Unexpected activity %v", read)
	}
	if !read.UpdatedAt.Equal(like.UpdatedAt) {
		t.Errorf("Expected UpdatedAt %s, got %s", like.UpdatedAt, read.UpdatedAt)
	}
	if _, err := db.ReadActivityByOid(ctx, origin.Id, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	read.Interaction = domain.NotificationEmpty
	read.Oid = "like-1b"
	if err := db.UpdateActivity(ctx, read); err != nil {
		t.Fatalf("UpdateActivity failed: %v", err)
	}
	byId, _ := db.ReadActivityById(ctx, id)
	if byId.Oid != "like-1b" || byId.Interaction != domain.NotificationEmpty {
		t.Errorf("Update not applied: %v", byId)
	}
}

func TestReadLatestNoteActivityType(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)
	actor, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "bob"})
	noteId := insertTestNote(t, db, origin, "n1", actor)

	latest, err := db.ReadLatestNoteActivityType(ctx, actor, noteId, domain.ActivityLike, domain.ActivityUndoLike)
	if err != nil || latest != domain.ActivityUnknown {
		t.Errorf("Expected Unknown without history, got %s (%v)", latest, err)
	}

	base := time.Now()
	for i, activityType := range []domain.ActivityType{domain.ActivityLike, domain.ActivityUndoLike, domain.ActivityAnnounce} {
		a := domain.NewActivity(origin, domain.Actor{ActorId: actor}, activityType)
		a.Oid = "a" + activityType.String()
		a.Actor = domain.Actor{ActorId: actor}
		a.SetNote(domain.Note{NoteId: noteId})
		a.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		if _, err := db.InsertActivity(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	latest, _ = db.ReadLatestNoteActivityType(ctx, actor, noteId, domain.ActivityLike, domain.ActivityUndoLike)
	if latest != domain.ActivityUndoLike {
		t.Errorf("Expected UndoLike, got %s", latest)
	}
}

func TestReadPlaceholderActivity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)
	noteId := insertTestNote(t, db, origin, "n1", 0)

	a := domain.NewActivity(origin, domain.Actor{ActorId: 1}, domain.ActivityUpdate)
	a.Oid = "tmp:update::n1"
	a.SetNote(domain.Note{NoteId: noteId})
	id, _ := db.InsertActivity(ctx, a)

	placeholder, err := db.ReadPlaceholderActivity(ctx, origin.Id, noteId)
	if err != nil || placeholder.ActivityId != id {
		t.Errorf("Expected placeholder %d, got %v (%v)", id, placeholder, err)
	}
}

func TestApplyMembership(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	changes := []MembershipChange{
		{GroupId: 10, MemberId: 1, IsMember: true},
		{GroupId: 10, MemberId: 2, IsMember: true},
		{GroupId: 20, MemberId: 3, IsMember: true},
	}
	if err := db.ApplyMembership(ctx, changes); err != nil {
		t.Fatal(err)
	}
	// repeating an add is harmless
	if err := db.ApplyMembership(ctx, changes[:1]); err != nil {
		t.Fatal(err)
	}
	if err := db.ApplyMembership(ctx, []MembershipChange{{GroupId: 10, MemberId: 1, IsMember: false}}); err != nil {
		t.Fatal(err)
	}

	ids, _ := db.ReadGroupMemberIds(ctx, 10)
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected members [2], got %v", ids)
	}
	if member, _ := db.IsGroupMember(ctx, 20, 3); !member {
		t.Error("Expected 3 in group 20")
	}
	count, _ := db.CountGroupMembers(ctx)
	if count != 2 {
		t.Errorf("Expected 2 edges, got %d", count)
	}
}

func TestFetchQueue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.EnqueueFetch(ctx, 1, "n1", domain.ObjectNote); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueFetch(ctx, 1, "n1", domain.ObjectNote); err != nil {
		t.Fatal(err)
	}
	items, err := db.ReadPendingFetches(ctx, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("Expected one deduplicated request, got %v (%v)", items, err)
	}
	if items[0].ObjectType != domain.ObjectNote || items[0].Oid != "n1" {
		t.Errorf("Unexpected request %+v", items[0])
	}

	if err := db.UpdateFetchAttempt(ctx, items[0].Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	items, _ = db.ReadPendingFetches(ctx, 10)
	if len(items) != 0 {
		t.Errorf("Postponed request should not be pending, got %v", items)
	}

	count, _ := db.CountFetches(ctx)
	if count != 1 {
		t.Errorf("Expected 1 queued, got %d", count)
	}
}

func TestNotifications(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)
	alice, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "alice", WebFingerId: "alice@example.com"})
	bob, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "bob", Username: "bob"})
	noteId := insertTestNote(t, db, origin, "n1", alice)

	for i, interaction := range []domain.NotificationEventType{domain.NotificationLike, domain.NotificationEmpty} {
		a := domain.NewActivity(origin, domain.Actor{ActorId: alice}, domain.ActivityLike)
		a.Oid = []string{"l1", "l2"}[i]
		a.Actor = domain.Actor{ActorId: bob}
		a.SetNote(domain.Note{NoteId: noteId})
		a.Interaction = interaction
		a.NotifiedActor = domain.Actor{ActorId: alice}
		if interaction != domain.NotificationEmpty {
			a.Notified = domain.TRUE
		}
		a.UpdatedAt = time.Now()
		if _, err := db.InsertActivity(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	unseen, err := db.ReadNotifications(ctx, true, 10)
	if err != nil || len(unseen) != 1 {
		t.Fatalf("Expected one unseen notification, got %v (%v)", unseen, err)
	}
	if unseen[0].ActorName != "bob" || unseen[0].NotifiedActorId != alice || unseen[0].NoteContent == "" {
		t.Errorf("Unexpected notification %+v", unseen[0])
	}

	marked, err := db.MarkNotificationsSeen(ctx, unseen[0].ActivityId)
	if err != nil || marked != 1 {
		t.Errorf("Expected 1 marked, got %d (%v)", marked, err)
	}
	unseen, _ = db.ReadNotifications(ctx, true, 10)
	all, _ := db.ReadNotifications(ctx, false, 10)
	if len(unseen) != 0 || len(all) != 1 {
		t.Errorf("Expected 0 unseen and 1 total, got %d and %d", len(unseen), len(all))
	}
}
