package domain

import "testing"

var allVisibilities = []Visibility{
	VisibilityUnknown,
	VisibilityPublic,
	VisibilityFollowers,
	VisibilityPublicAndFollowers,
	VisibilityPrivate,
	VisibilityNeedsClarification,
}

func TestVisibilityJoin(t *testing.T) {
	tests := []struct {
		a, b Visibility
		want Visibility
	}{
		{VisibilityUnknown, VisibilityPublic, VisibilityPublic},
		{VisibilityPublic, VisibilityFollowers, VisibilityPublicAndFollowers},
		{VisibilityPrivate, VisibilityUnknown, VisibilityPrivate},
		{VisibilityPrivate, VisibilityPrivate, VisibilityPrivate},
		{VisibilityPrivate, VisibilityPublic, VisibilityNeedsClarification},
		{VisibilityFollowers, VisibilityPrivate, VisibilityNeedsClarification},
		{VisibilityNeedsClarification, VisibilityPublic, VisibilityNeedsClarification},
	}
	for _, tt := range tests {
		if got := tt.a.Join(tt.b); got != tt.want {
			t.Errorf("%s.Join(%s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVisibilityJoinIsCommutativeAssociativeIdempotent(t *testing.T) {
	for _, a := range allVisibilities {
		if a.Join(a) != a {
			t.Errorf("%s is not idempotent", a)
		}
		if a.Join(VisibilityUnknown) != a {
			t.Errorf("Unknown is not neutral for %s", a)
		}
		for _, b := range allVisibilities {
			if a.Join(b) != b.Join(a) {
				t.Errorf("join of %s and %s is not commutative", a, b)
			}
			for _, c := range allVisibilities {
				if a.Join(b).Join(c) != a.Join(b.Join(c)) {
					t.Errorf("join of %s, %s, %s is not associative", a, b, c)
				}
			}
		}
	}
}

func TestVisibilityFromId(t *testing.T) {
	for _, v := range allVisibilities {
		if got := VisibilityFromId(v.Id()); got != v {
			t.Errorf("VisibilityFromId(%d) = %s, want %s", v.Id(), got, v)
		}
	}
	if got := VisibilityFromId(5); got != VisibilityNeedsClarification {
		t.Errorf("Expected contradictory bits to normalize, got %s", got)
	}
}

func TestVisibilityPredicates(t *testing.T) {
	if !VisibilityPublicAndFollowers.IsPublic() || !VisibilityPublicAndFollowers.IsFollowers() {
		t.Error("public+followers should be both public and followers")
	}
	if VisibilityPrivate.IsPublic() {
		t.Error("private should not be public")
	}
	if VisibilityUnknown.IsKnown() {
		t.Error("unknown should not be known")
	}
}
