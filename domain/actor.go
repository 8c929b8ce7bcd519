package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TempOidPrefix marks opaque ids we synthesized before the server told us the real one.
const TempOidPrefix = "tmp:"

// PublicCollection is the ActivityStreams address meaning "everyone".
const PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

// ActorSpecial distinguishes the audience pseudo-actors from real accounts.
type ActorSpecial int

const (
	SpecialNone ActorSpecial = iota
	SpecialPublic
	SpecialFollowers
)

var webFingerPattern = regexp.MustCompile(`^[^@\s/:]+@[A-Za-z0-9\-]+(\.[A-Za-z0-9\-]+)+$`)

// ActorEndpoints are the collection URIs an actor declares about itself.
type ActorEndpoints struct {
	Inbox     string
	Outbox    string
	Followers string
	Following string
}

// Actor is a remote account (or a group of accounts) as known locally.
// ParentActorId is a relation by local id, never an owning reference.
type Actor struct {
	ActorId     int64
	Origin      Origin
	Oid         string
	Username    string
	WebFingerId string

	RealName   string
	Summary    string
	ProfileURL string
	Homepage   string
	AvatarURL  string

	AvatarDownloadedAt time.Time
	NotesCount         int64
	FavoritesCount     int64
	FollowingCount     int64
	FollowersCount     int64
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Endpoints     ActorEndpoints
	GroupType     GroupType
	ParentActorId int64
	Special       ActorSpecial
}

// EmptyActor has no identity at all. Emptiness is derived, so this is just the zero value.
func EmptyActor() Actor { return Actor{} }

// PublicActor is the "everyone" recipient.
func PublicActor() Actor {
	return Actor{Special: SpecialPublic, Oid: PublicCollection}
}

// FollowersActor is the "followers of the author" recipient before it is tied to a real author.
func FollowersActor() Actor {
	return Actor{Special: SpecialFollowers}
}

func NewActor(origin Origin, oid string) Actor {
	return Actor{Origin: origin, Oid: oid}
}

func ActorFromWebFingerId(origin Origin, webFingerId string) Actor {
	return Actor{Origin: origin, WebFingerId: NormalizeWebFingerId(webFingerId)}
}

// NewGroupActor builds the synthetic group (friends, followers...) owned by parent.
func NewGroupActor(parent Actor, groupType GroupType) Actor {
	group := Actor{
		Origin:        parent.Origin,
		GroupType:     groupType,
		ParentActorId: parent.ActorId,
		UpdatedAt:     parent.UpdatedAt,
	}
	switch groupType {
	case GroupFollowers:
		group.Oid = parent.Endpoints.Followers
	case GroupFriends:
		group.Oid = parent.Endpoints.Following
	}
	if parent.Username != "" {
		group.RealName = parent.Username + "/" + groupType.String()
	}
	if group.Oid == "" {
		group.Oid = group.TempOid()
	}
	return group
}

// NormalizeWebFingerId strips "acct:" and "@" prefixes and lowercases the address.
func NormalizeWebFingerId(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "acct:")
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

func IsWebFingerIdValid(s string) bool {
	return webFingerPattern.MatchString(s)
}

func IsTempOid(oid string) bool {
	return strings.HasPrefix(oid, TempOidPrefix)
}

func (a Actor) IsPublic() bool    { return a.Special == SpecialPublic }
func (a Actor) IsFollowers() bool { return a.Special == SpecialFollowers }

func (a Actor) hasGroupIdentity() bool {
	return a.GroupType.IsGroupLike() && a.ParentActorId != 0
}

// IsEmpty is true when nothing could ever identify this actor.
func (a Actor) IsEmpty() bool {
	if a.Special != SpecialNone {
		return false
	}
	return a.ActorId == 0 && a.Oid == "" && !a.IsWebFingerIdValid() &&
		!a.IsUsernameValid() && !a.hasGroupIdentity()
}

// IsConstant covers Empty, Public and Followers: values that must never be persisted.
func (a Actor) IsConstant() bool {
	return a.Special != SpecialNone || a.IsEmpty()
}

func (a Actor) IsOidReal() bool {
	return a.Oid != "" && !IsTempOid(a.Oid)
}

func (a Actor) IsWebFingerIdValid() bool {
	return IsWebFingerIdValid(a.WebFingerId)
}

func (a Actor) IsUsernameValid() bool {
	return a.Origin.IsUsernameValid(a.Username)
}

// IsFullyDefined is true when both address-identifier and username are known, or for groups.
func (a Actor) IsFullyDefined() bool {
	if a.GroupType.IsGroupLike() {
		return true
	}
	return a.IsWebFingerIdValid() && a.IsUsernameValid()
}

func (a Actor) WebFingerHost() string {
	if !a.IsWebFingerIdValid() {
		return ""
	}
	return a.WebFingerId[strings.LastIndex(a.WebFingerId, "@")+1:]
}

// TempOid is deterministic so that re-ingesting an actor we can't fully identify yet
// lands on the same row.
func (a Actor) TempOid() string {
	switch {
	case a.IsWebFingerIdValid():
		return TempOidPrefix + a.WebFingerId
	case a.IsUsernameValid():
		return TempOidPrefix + strings.ToLower(a.Username)
	case a.hasGroupIdentity():
		return fmt.Sprintf("%s%s:%d", TempOidPrefix, a.GroupType, a.ParentActorId)
	}
	return ""
}

// WithDerivedIdentity fills identifiers that follow from the ones we already have.
func (a Actor) WithDerivedIdentity() Actor {
	if a.Special != SpecialNone {
		return a
	}
	a.WebFingerId = NormalizeWebFingerId(a.WebFingerId)
	if a.WebFingerId == "" && a.Username != "" && a.Origin.Type != OriginTwitter {
		if IsWebFingerIdValid(strings.ToLower(a.Username)) {
			a.WebFingerId = strings.ToLower(a.Username)
		} else if a.Origin.Host != "" && a.IsUsernameValid() {
			a.WebFingerId = strings.ToLower(a.Username + "@" + a.Origin.Host)
		}
	}
	if a.Username == "" && a.IsWebFingerIdValid() {
		at := strings.LastIndex(a.WebFingerId, "@")
		if strings.EqualFold(a.WebFingerId[at+1:], a.Origin.Host) {
			a.Username = a.WebFingerId[:at]
		} else {
			a.Username = a.WebFingerId
		}
	}
	if a.Oid == "" {
		a.Oid = a.TempOid()
	}
	return a
}

// IsSame decides identity using the matching precedence: local id, real oid,
// address-identifier, group parent, username. The first rule both sides can
// answer decides.
func (a Actor) IsSame(other Actor) bool {
	if a.Special != SpecialNone || other.Special != SpecialNone {
		return a.Special == other.Special
	}
	if a.ActorId != 0 && other.ActorId != 0 {
		return a.ActorId == other.ActorId
	}
	sameOrigin := a.Origin.SameAs(other.Origin)
	if sameOrigin && a.IsOidReal() && other.IsOidReal() {
		return a.Oid == other.Oid
	}
	if a.IsWebFingerIdValid() && other.IsWebFingerIdValid() {
		return strings.EqualFold(a.WebFingerId, other.WebFingerId)
	}
	if a.hasGroupIdentity() && other.hasGroupIdentity() {
		return a.ParentActorId == other.ParentActorId && a.GroupType == other.GroupType
	}
	if sameOrigin && a.IsUsernameValid() && other.IsUsernameValid() {
		return strings.EqualFold(a.Username, other.Username)
	}
	return false
}

// IsBetterToCacheThan decides which of two copies of the same actor we keep.
func (a Actor) IsBetterToCacheThan(other Actor) bool {
	if a.IsFullyDefined() != other.IsFullyDefined() {
		return a.IsFullyDefined()
	}
	if a.IsFullyDefined() {
		if !a.UpdatedAt.Equal(other.UpdatedAt) {
			return a.UpdatedAt.After(other.UpdatedAt)
		}
		if !a.AvatarDownloadedAt.Equal(other.AvatarDownloadedAt) {
			return a.AvatarDownloadedAt.After(other.AvatarDownloadedAt)
		}
		return a.NotesCount > other.NotesCount
	}
	if a.IsOidReal() != other.IsOidReal() {
		return a.IsOidReal()
	}
	if a.IsUsernameValid() != other.IsUsernameValid() {
		return a.IsUsernameValid()
	}
	if a.IsWebFingerIdValid() != other.IsWebFingerIdValid() {
		return a.IsWebFingerIdValid()
	}
	if (a.ProfileURL != "") != (other.ProfileURL != "") {
		return a.ProfileURL != ""
	}
	return a.UpdatedAt.After(other.UpdatedAt)
}

// Merge returns the better of the two copies with its blanks filled from the other one.
// A real oid always wins over a temporary one.
func (a Actor) Merge(other Actor) Actor {
	base, rest := a, other
	if other.IsBetterToCacheThan(a) {
		base, rest = other, a
	}
	if base.ActorId == 0 {
		base.ActorId = rest.ActorId
	}
	if !base.Origin.IsValid() {
		base.Origin = rest.Origin
	} else if base.Origin.Id == 0 && base.Origin.SameAs(rest.Origin) {
		base.Origin.Id = rest.Origin.Id
	}
	if !base.IsOidReal() && (rest.IsOidReal() || base.Oid == "") {
		base.Oid = rest.Oid
	}
	base.Username = firstNonEmpty(base.Username, rest.Username)
	base.WebFingerId = firstNonEmpty(base.WebFingerId, rest.WebFingerId)
	base.RealName = firstNonEmpty(base.RealName, rest.RealName)
	base.Summary = firstNonEmpty(base.Summary, rest.Summary)
	base.ProfileURL = firstNonEmpty(base.ProfileURL, rest.ProfileURL)
	base.Homepage = firstNonEmpty(base.Homepage, rest.Homepage)
	base.AvatarURL = firstNonEmpty(base.AvatarURL, rest.AvatarURL)
	base.Endpoints.Inbox = firstNonEmpty(base.Endpoints.Inbox, rest.Endpoints.Inbox)
	base.Endpoints.Outbox = firstNonEmpty(base.Endpoints.Outbox, rest.Endpoints.Outbox)
	base.Endpoints.Followers = firstNonEmpty(base.Endpoints.Followers, rest.Endpoints.Followers)
	base.Endpoints.Following = firstNonEmpty(base.Endpoints.Following, rest.Endpoints.Following)
	if rest.AvatarDownloadedAt.After(base.AvatarDownloadedAt) {
		base.AvatarDownloadedAt = rest.AvatarDownloadedAt
	}
	if base.NotesCount == 0 {
		base.NotesCount = rest.NotesCount
	}
	if base.FavoritesCount == 0 {
		base.FavoritesCount = rest.FavoritesCount
	}
	if base.FollowingCount == 0 {
		base.FollowingCount = rest.FollowingCount
	}
	if base.FollowersCount == 0 {
		base.FollowersCount = rest.FollowersCount
	}
	if base.CreatedAt.IsZero() || (!rest.CreatedAt.IsZero() && rest.CreatedAt.Before(base.CreatedAt)) {
		base.CreatedAt = rest.CreatedAt
	}
	if rest.UpdatedAt.After(base.UpdatedAt) {
		base.UpdatedAt = rest.UpdatedAt
	}
	if !base.GroupType.IsGroupLike() {
		base.GroupType = rest.GroupType
	}
	if base.ParentActorId == 0 {
		base.ParentActorId = rest.ParentActorId
	}
	return base
}

// UniqueName is the most human friendly identifier we have.
func (a Actor) UniqueName() string {
	switch {
	case a.IsPublic():
		return "public"
	case a.IsFollowers():
		return "followers"
	case a.WebFingerId != "":
		return a.WebFingerId
	case a.Username != "":
		return a.Username
	case a.Oid != "":
		return a.Oid
	}
	return fmt.Sprintf("actor#%d", a.ActorId)
}

func (a Actor) String() string {
	return fmt.Sprintf("Actor{id:%d origin:%s oid:%q name:%q}", a.ActorId, a.Origin.Name, a.Oid, a.UniqueName())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
