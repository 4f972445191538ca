package pubsub

import "sync"

// BeamDirectory maps interest tags and user ids to connection sets for
// targeted push independent of channel membership. A user id may map to
// several connections (multiple devices). Delivery is best-effort with no
// acknowledgment; the directory itself never performs I/O.
type BeamDirectory struct {
	mu        sync.RWMutex
	interests map[string]map[*Conn]struct{}
	users     map[string]map[*Conn]struct{}
}

func newBeamDirectory() *BeamDirectory {
	return &BeamDirectory{
		interests: make(map[string]map[*Conn]struct{}),
		users:     make(map[string]map[*Conn]struct{}),
	}
}

// RegisterInterest subscribes the connection to an interest tag. Idempotent.
func (d *BeamDirectory) RegisterInterest(tag string, c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.interests[tag]
	if !ok {
		set = make(map[*Conn]struct{})
		d.interests[tag] = set
	}
	set[c] = struct{}{}
}

// RegisterUser binds the connection to a user id. Idempotent.
func (d *BeamDirectory) RegisterUser(userID string, c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.users[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		d.users[userID] = set
	}
	set[c] = struct{}{}
}

// connsFor unions the connection sets matched by the tags and user ids,
// de-duplicated across both registries so a connection matching several
// targets receives a notification once.
func (d *BeamDirectory) connsFor(tags, userIDs []string) []*Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[*Conn]struct{})
	conns := make([]*Conn, 0)
	collect := func(registry map[string]map[*Conn]struct{}, keys []string) {
		for _, key := range keys {
			for c := range registry[key] {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				conns = append(conns, c)
			}
		}
	}
	collect(d.interests, tags)
	collect(d.users, userIDs)
	return conns
}

// removeConn drops the connection from every registry entry and deletes
// entries left empty. Called from the deregistration cascade.
func (d *BeamDirectory) removeConn(c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for tag, set := range d.interests {
		delete(set, c)
		if len(set) == 0 {
			delete(d.interests, tag)
		}
	}
	for id, set := range d.users {
		delete(set, c)
		if len(set) == 0 {
			delete(d.users, id)
		}
	}
}
