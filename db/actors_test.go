package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/fedimerge/domain"
)

func TestInsertAndReadActor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)

	updated := time.Now().Truncate(time.Millisecond).UTC()
	actor := domain.Actor{
		Origin:      origin,
		Oid:         "https://example.com/users/alice",
		Username:    "alice",
		WebFingerId: "alice@example.com",
		RealName:    "Alice",
		UpdatedAt:   updated,
		Endpoints:   domain.ActorEndpoints{Followers: "https://example.com/users/alice/followers"},
	}
	id, err := db.InsertActor(ctx, actor)
	if err != nil {
		t.Fatalf("InsertActor failed: %v", err)
	}

	read, err := db.ReadActorById(ctx, id)
	if err != nil {
		t.Fatalf("ReadActorById failed: %v", err)
	}
	if read.Oid != actor.Oid || read.RealName != "Alice" || read.Origin.Name != origin.Name {
		t.Errorf("Unexpected actor %v", read)
	}
	if !read.UpdatedAt.Equal(updated) {
		t.Errorf("Expected UpdatedAt %s, got %s", updated, read.UpdatedAt)
	}
	if read.Endpoints.Followers != actor.Endpoints.Followers {
		t.Errorf("Expected followers endpoint, got '%s'", read.Endpoints.Followers)
	}

	if _, err := db.ReadActorById(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestActorLookups(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)

	id, err := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "o1", Username: "Bob", WebFingerId: "bob@example.com"})
	if err != nil {
		t.Fatalf("InsertActor failed: %v", err)
	}
	group, err := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "tmp:followers:1", GroupType: domain.GroupFollowers, ParentActorId: id})
	if err != nil {
		t.Fatalf("InsertActor failed: %v", err)
	}

	lookups := []struct {
		name string
		got  func() (int64, error)
		want int64
	}{
		{"oid", func() (int64, error) { return db.ReadActorIdByOid(ctx, origin.Id, "o1") }, id},
		{"webfinger ignores case", func() (int64, error) { return db.ReadActorIdByWebFingerId(ctx, origin.Id, "BOB@example.com") }, id},
		{"username ignores case", func() (int64, error) { return db.ReadActorIdByUsername(ctx, origin.Id, "bob") }, id},
		{"group parent", func() (int64, error) { return db.ReadActorIdByParent(ctx, id, domain.GroupFollowers) }, group},
		{"other group kind", func() (int64, error) { return db.ReadActorIdByParent(ctx, id, domain.GroupFriends) }, 0},
		{"other origin", func() (int64, error) { return db.ReadActorIdByOid(ctx, origin.Id+1, "o1") }, 0},
		{"empty oid", func() (int64, error) { return db.ReadActorIdByOid(ctx, origin.Id, "") }, 0},
	}
	for _, l := range lookups {
		got, err := l.got()
		if err != nil {
			t.Errorf("%s: unexpected error %v", l.name, err)
		}
		if got != l.want {
			t.Errorf("%s: got %d, want %d", l.name, got, l.want)
		}
	}
}

func TestInsertActorRefusesConstants(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.InsertActor(ctx, domain.PublicActor()); err == nil {
		t.Error("Expected Public to be refused")
	}
	if _, err := db.InsertActor(ctx, domain.EmptyActor()); err == nil {
		t.Error("Expected Empty to be refused")
	}
}

func TestInsertActorUniqueOid(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)

	if _, err := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "o1"}); err != nil {
		t.Fatalf("InsertActor failed: %v", err)
	}
	if _, err := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "o1"}); err == nil {
		t.Error("Expected a duplicate (origin, oid) to be rejected")
	}
}

func TestUpdateActorPromotesOid(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)

	id, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "tmp:carol@example.com", WebFingerId: "carol@example.com"})
	actor, _ := db.ReadActorById(ctx, id)
	actor.Oid = "https://example.com/users/carol"
	if err := db.UpdateActor(ctx, actor); err != nil {
		t.Fatalf("UpdateActor failed: %v", err)
	}
	byOid, _ := db.ReadActorIdByOid(ctx, origin.Id, actor.Oid)
	if byOid != id {
		t.Errorf("Expected the same row under the real oid, got %d", byOid)
	}
	if err := db.UpdateActor(ctx, domain.Actor{Oid: "x"}); err == nil {
		t.Error("Expected an error updating an actor without id")
	}
}

func TestPruneActor(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	origin := testOrigin(t, db)

	lonely, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "lonely"})
	busy, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "busy"})
	group, _ := db.InsertActor(ctx, domain.Actor{Origin: origin, Oid: "g", GroupType: domain.GroupGeneric})
	if err := db.ApplyMembership(ctx, []MembershipChange{{GroupId: group, MemberId: busy, IsMember: true}}); err != nil {
		t.Fatal(err)
	}

	if err := db.PruneActor(ctx, busy); !errors.Is(err, ErrActorInUse) {
		t.Errorf("Expected ErrActorInUse, got %v", err)
	}
	if err := db.PruneActor(ctx, lonely); err != nil {
		t.Errorf("PruneActor failed: %v", err)
	}
	if err := db.PruneActor(ctx, lonely); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second prune, got %v", err)
	}
	count, _ := db.CountActors(ctx)
	if count != 2 {
		t.Errorf("Expected 2 actors left, got %d", count)
	}
}
