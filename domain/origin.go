package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// OriginType is the kind of server software an Origin speaks to.
type OriginType int

const (
	OriginUnknown OriginType = iota
	OriginTwitter
	OriginMastodon
	OriginGnuSocial
	OriginPumpio
	OriginActivityPub
)

var originTypeNames = map[OriginType]string{
	OriginUnknown:     "unknown",
	OriginTwitter:     "twitter",
	OriginMastodon:    "mastodon",
	OriginGnuSocial:   "gnusocial",
	OriginPumpio:      "pumpio",
	OriginActivityPub: "activitypub",
}

func (t OriginType) String() string {
	if name, ok := originTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func ParseOriginType(s string) OriginType {
	for t, name := range originTypeNames {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return OriginUnknown
}

var (
	usernameSimple  = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
	usernameWithDot = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*(@[A-Za-z0-9_.\-]+\.[A-Za-z]{2,})?$`)
)

// Origin is one federated server as seen by one of our accounts.
type Origin struct {
	Id   int64
	Name string
	Type OriginType
	Host string
}

func (o Origin) IsValid() bool {
	return o.Id != 0 || o.Name != ""
}

// IsUsernameValid applies the origin's username rules. Federated origins accept
// "user@remote.host" usernames for accounts living on other servers.
func (o Origin) IsUsernameValid(username string) bool {
	if username == "" || strings.ContainsAny(username, " \t\n") {
		return false
	}
	switch o.Type {
	case OriginTwitter:
		return usernameSimple.MatchString(username)
	default:
		return usernameWithDot.MatchString(username)
	}
}

// PublicByDefault reports whether a note with no audience evidence is public.
func (o Origin) PublicByDefault() bool {
	return o.Type == OriginTwitter || o.Type == OriginGnuSocial
}

// SameAs compares by local id when both are persisted, by name otherwise.
func (o Origin) SameAs(other Origin) bool {
	if o.Id != 0 && other.Id != 0 {
		return o.Id == other.Id
	}
	return o.Name != "" && strings.EqualFold(o.Name, other.Name)
}

func (o Origin) String() string {
	return fmt.Sprintf("%s(%s)", o.Name, o.Type)
}
