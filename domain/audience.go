package domain

// Audience is the recipient set of a note plus the visibility evidence gathered so far.
// Public and Followers pseudo-actors never become recipients; they feed Visibility.
type Audience struct {
	Origin     Origin
	Visibility Visibility
	actors     []Actor
}

func NewAudience(origin Origin) Audience {
	return Audience{Origin: origin}
}

// Add folds one recipient in. Duplicates by IsSame keep the better copy.
func (a *Audience) Add(actor Actor) {
	switch {
	case actor.IsPublic():
		a.Visibility = a.Visibility.Join(VisibilityPublic)
		return
	case actor.IsFollowers():
		a.Visibility = a.Visibility.Join(VisibilityFollowers)
		return
	case actor.IsEmpty():
		return
	}
	for i, existing := range a.actors {
		if existing.IsSame(actor) {
			if actor.IsBetterToCacheThan(existing) {
				a.actors[i] = actor.Merge(existing)
			} else {
				a.actors[i] = existing.Merge(actor)
			}
			return
		}
	}
	a.actors = append(a.actors, actor)
}

func (a *Audience) AddVisibility(v Visibility) {
	a.Visibility = a.Visibility.Join(v)
}

// Recipients returns a copy of the explicit recipients.
func (a Audience) Recipients() []Actor {
	out := make([]Actor, len(a.actors))
	copy(out, a.actors)
	return out
}

func (a Audience) Len() int { return len(a.actors) }

func (a Audience) IsEmpty() bool {
	return len(a.actors) == 0 && !a.Visibility.IsKnown()
}

// FindSame returns the recipient that IsSame as actor.
func (a Audience) FindSame(actor Actor) (Actor, bool) {
	return FindSame(a.actors, actor)
}

// ContainsActorId checks persisted recipients by local id.
func (a Audience) ContainsActorId(actorId int64) bool {
	if actorId == 0 {
		return false
	}
	for _, actor := range a.actors {
		if actor.ActorId == actorId {
			return true
		}
	}
	return false
}

// Replace swaps the recipient list, keeping the visibility.
func (a *Audience) Replace(actors []Actor) {
	a.actors = nil
	for _, actor := range actors {
		a.Add(actor)
	}
}

// FindSame is the identity lookup used for audience diffs.
func FindSame(actors []Actor, actor Actor) (Actor, bool) {
	for _, candidate := range actors {
		if candidate.IsSame(actor) {
			return candidate, true
		}
	}
	return Actor{}, false
}

// DiffActors returns the members of previous missing from next, and the members of
// next missing from previous, comparing with IsSame.
func DiffActors(previous, next []Actor) (toDelete, toAdd []Actor) {
	for _, p := range previous {
		if _, ok := FindSame(next, p); !ok {
			toDelete = append(toDelete, p)
		}
	}
	for _, n := range next {
		if _, ok := FindSame(previous, n); !ok {
			toAdd = append(toAdd, n)
		}
	}
	return toDelete, toAdd
}
