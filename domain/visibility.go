package domain

// Visibility is the audience scope of a note, accumulated from several signals
// with Join. The value doubles as the stored column value.
type Visibility int

const (
	visPublic    = 1
	visFollowers = 2
	visPrivate   = 4
)

const (
	VisibilityUnknown            Visibility = 0
	VisibilityPublic             Visibility = visPublic
	VisibilityFollowers          Visibility = visFollowers
	VisibilityPublicAndFollowers Visibility = visPublic | visFollowers
	VisibilityPrivate            Visibility = visPrivate
	VisibilityNeedsClarification Visibility = visPublic | visFollowers | visPrivate
)

// VisibilityFromId maps a stored value back, closing over any bit pattern
// that was written by an older build.
func VisibilityFromId(id int64) Visibility {
	return normalizeVisibility(Visibility(id) & VisibilityNeedsClarification)
}

func normalizeVisibility(v Visibility) Visibility {
	if v&visPrivate != 0 && v != VisibilityPrivate {
		return VisibilityNeedsClarification
	}
	return v
}

// Join combines two pieces of evidence. Unknown is neutral; evidence that a private
// note also went to a wider audience contradicts itself and yields NeedsClarification.
func (v Visibility) Join(other Visibility) Visibility {
	return normalizeVisibility(v | other)
}

func (v Visibility) Id() int64 { return int64(v) }

func (v Visibility) IsKnown() bool { return v != VisibilityUnknown }

// IsPublic is true when anyone may read the note.
func (v Visibility) IsPublic() bool {
	return v == VisibilityPublic || v == VisibilityPublicAndFollowers
}

func (v Visibility) IsFollowers() bool {
	return v == VisibilityFollowers || v == VisibilityPublicAndFollowers
}

func (v Visibility) IsPrivate() bool { return v == VisibilityPrivate }

func (v Visibility) NeedsClarification() bool { return v == VisibilityNeedsClarification }

func (v Visibility) String() string {
	switch v {
	case VisibilityPublic:
		return "public"
	case VisibilityFollowers:
		return "followers"
	case VisibilityPublicAndFollowers:
		return "public+followers"
	case VisibilityPrivate:
		return "private"
	case VisibilityNeedsClarification:
		return "needs-clarification"
	default:
		return "unknown"
	}
}
