package pubsub

import (
	"encoding/json"
	"strings"
	"sync"
)

// Kind is a channel's visibility class, derived from its name prefix.
type Kind int

const (
	// KindPublic channels accept only control-plane events and subscribe
	// without authorization.
	KindPublic Kind = iota
	// KindPrivate channels require an auth token to subscribe and accept
	// client-originated events.
	KindPrivate
	// KindPresence channels behave like private channels and additionally
	// track distinct-user membership.
	KindPresence
)

// KindOf classifies a channel name by its prefix.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return KindPresence
	case strings.HasPrefix(name, "private-"):
		return KindPrivate
	default:
		return KindPublic
	}
}

// Channel is a named topic with a subscriber set and, for presence channels,
// a distinct-user member map. Channels are created lazily on first subscribe
// or publish and become inert when empty; they are never explicitly
// destroyed. All mutating operations hold the channel's own mutex and do no
// I/O while holding it — fan-out works from snapshots taken under the lock.
type Channel struct {
	name string
	kind Kind

	mu      sync.RWMutex
	subs    map[*Conn]struct{}
	members map[string]*presenceMember
}

// presenceMember tracks one distinct user on a presence channel. refs counts
// that user's subscribed connections so member_added/member_removed fire
// only on 0→1 and 1→0 transitions.
type presenceMember struct {
	info json.RawMessage
	refs int
}

func newChannel(name string) *Channel {
	ch := &Channel{
		name: name,
		kind: KindOf(name),
		subs: make(map[*Conn]struct{}),
	}
	if ch.kind == KindPresence {
		ch.members = make(map[string]*presenceMember)
	}
	return ch
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Kind returns the channel's visibility class.
func (ch *Channel) Kind() Kind { return ch.kind }

// add registers the connection as a subscriber. It returns the data blob for
// the subscription_succeeded frame, whether the connection newly joined, and
// whether its user is new to the presence member map. Re-subscribing while
// already subscribed is idempotent: current data, no transition.
func (ch *Channel) add(c *Conn, ident Identity) (data json.RawMessage, joined, newMember bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.subs[c]; ok {
		return ch.subscriptionDataLocked(), false, false
	}
	ch.subs[c] = struct{}{}
	joined = true

	if ch.kind == KindPresence {
		m, ok := ch.members[ident.UserID]
		if !ok {
			m = &presenceMember{info: normalizeInfo(ident.UserInfo)}
			ch.members[ident.UserID] = m
			newMember = true
		}
		m.refs++
	}
	return ch.subscriptionDataLocked(), joined, newMember
}

// remove drops the connection from the subscriber set. It reports whether
// the connection was subscribed at all and whether this was its user's last
// presence subscription; in the latter case the departed identity is
// returned for the member_removed broadcast.
func (ch *Channel) remove(c *Conn) (left, memberGone bool, ident Identity) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.subs[c]; !ok {
		return false, false, Identity{}
	}
	delete(ch.subs, c)

	if ch.kind == KindPresence {
		ident = c.Identity()
		if m, ok := ch.members[ident.UserID]; ok {
			m.refs--
			if m.refs <= 0 {
				ident.UserInfo = m.info
				delete(ch.members, ident.UserID)
				memberGone = true
			}
		}
	}
	return true, memberGone, ident
}

// subscribed reports whether the connection currently holds a subscription.
func (ch *Channel) subscribed(c *Conn) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	_, ok := ch.subs[c]
	return ok
}

// snapshot returns the current subscriber set minus exclude. Sends happen
// against the snapshot after the lock is released, so a join concurrent
// with a publish deterministically either sees or misses that message.
func (ch *Channel) snapshot(exclude *Conn) []*Conn {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	conns := make([]*Conn, 0, len(ch.subs))
	for c := range ch.subs {
		if c == exclude {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

func (ch *Channel) empty() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subs) == 0
}

// subscriptionDataLocked builds the subscription_succeeded payload. Presence
// channels report the full member list; other kinds return an empty object.
// Callers must hold ch.mu.
func (ch *Channel) subscriptionDataLocked() json.RawMessage {
	if ch.kind != KindPresence {
		return json.RawMessage(`{}`)
	}

	ids := make([]string, 0, len(ch.members))
	hash := make(map[string]json.RawMessage, len(ch.members))
	for id, m := range ch.members {
		ids = append(ids, id)
		hash[id] = m.info
	}

	data, err := json.Marshal(presenceData{Presence: presenceList{
		Count: len(ids),
		IDs:   ids,
		Hash:  hash,
	}})
	if err != nil {
		// Member info is stored as pre-validated raw JSON; this cannot fail.
		return json.RawMessage(`{}`)
	}
	return data
}

type presenceData struct {
	Presence presenceList `json:"presence"`
}

type presenceList struct {
	Count int                        `json:"count"`
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
}

func normalizeInfo(info json.RawMessage) json.RawMessage {
	if len(info) == 0 {
		return json.RawMessage(`{}`)
	}
	return info
}
