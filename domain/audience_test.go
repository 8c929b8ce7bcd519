package domain

import "testing"

func TestAudienceAddSentinelsJoinVisibility(t *testing.T) {
	audience := NewAudience(mastodon)
	audience.Add(PublicActor())
	audience.Add(FollowersActor())
	audience.Add(EmptyActor())

	if audience.Len() != 0 {
		t.Errorf("Expected no explicit recipients, got %d", audience.Len())
	}
	if audience.Visibility != VisibilityPublicAndFollowers {
		t.Errorf("Expected public+followers, got %s", audience.Visibility)
	}
}

func TestAudienceAddDeduplicatesKeepingBetterCopy(t *testing.T) {
	audience := NewAudience(mastodon)
	audience.Add(Actor{Origin: mastodon, WebFingerId: "bob@example.com"})
	audience.Add(Actor{Origin: mastodon, WebFingerId: "bob@example.com", Username: "bob", RealName: "Bob"})

	if audience.Len() != 1 {
		t.Fatalf("Expected one recipient, got %d", audience.Len())
	}
	bob := audience.Recipients()[0]
	if bob.Username != "bob" || bob.RealName != "Bob" {
		t.Errorf("Expected the better copy to be kept, got %v", bob)
	}
}

func TestAudienceRecipientsIsACopy(t *testing.T) {
	audience := NewAudience(mastodon)
	audience.Add(Actor{Origin: mastodon, Oid: "o1"})
	recipients := audience.Recipients()
	recipients[0].Oid = "changed"
	if audience.Recipients()[0].Oid != "o1" {
		t.Error("Recipients should not expose internal state")
	}
}

func TestDiffActors(t *testing.T) {
	a := Actor{Origin: mastodon, Oid: "a"}
	b := Actor{Origin: mastodon, Oid: "b"}
	c := Actor{Origin: mastodon, Oid: "c"}
	d := Actor{Origin: mastodon, Oid: "d"}

	toDelete, toAdd := DiffActors([]Actor{a, b, c}, []Actor{b, c, d})
	if len(toDelete) != 1 || toDelete[0].Oid != "a" {
		t.Errorf("Expected to delete exactly {a}, got %v", toDelete)
	}
	if len(toAdd) != 1 || toAdd[0].Oid != "d" {
		t.Errorf("Expected to add exactly {d}, got %v", toAdd)
	}
}

func TestDiffActorsUsesIdentityNotEquality(t *testing.T) {
	stored := Actor{ActorId: 3, Origin: mastodon, Oid: "o3", WebFingerId: "x@example.com"}
	fresh := Actor{Origin: mastodon, Oid: "tmp:x@example.com", WebFingerId: "X@example.com"}

	toDelete, toAdd := DiffActors([]Actor{stored}, []Actor{fresh})
	if len(toDelete) != 0 || len(toAdd) != 0 {
		t.Errorf("Expected no changes, got delete=%v add=%v", toDelete, toAdd)
	}
}

func TestAudienceContainsActorId(t *testing.T) {
	audience := NewAudience(mastodon)
	audience.Add(Actor{ActorId: 8, Origin: mastodon, Oid: "o8"})
	if !audience.ContainsActorId(8) {
		t.Error("Expected recipient 8")
	}
	if audience.ContainsActorId(0) {
		t.Error("Zero id never matches")
	}
}
