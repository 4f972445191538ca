package pubsub

import (
	"encoding/json"
	"testing"
)

func TestBeamInterestDeduplication(t *testing.T) {
	h := newTestHub()
	c, s := addConn(h, "a")

	// Overlapping tags in one publish must deliver exactly once.
	h.RegisterInterest("sports", c)
	h.RegisterInterest("breaking", c)
	h.RegisterInterest("sports", c) // idempotent re-register

	notification := json.RawMessage(`{"title":"goal"}`)
	if got := h.PublishToInterests([]string{"sports", "breaking"}, notification); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if s.count() != 1 {
		t.Fatalf("connection received %d frames, want 1", s.count())
	}

	var frame struct {
		Type         string          `json:"type"`
		Notification json.RawMessage `json:"notification"`
		Timestamp    string          `json:"timestamp"`
	}
	if err := json.Unmarshal(s.frames[0], &frame); err != nil {
		t.Fatalf("unmarshal beam frame: %v", err)
	}
	if frame.Type != "beam" {
		t.Errorf("type = %q, want beam", frame.Type)
	}
	if string(frame.Notification) != `{"title":"goal"}` {
		t.Errorf("notification = %s, want it verbatim", frame.Notification)
	}
	if frame.Timestamp == "" {
		t.Error("beam frame missing timestamp")
	}
}

func TestBeamCrossRegistryDeduplication(t *testing.T) {
	h := newTestHub()
	c, s := addConn(h, "a")
	h.RegisterInterest("sports", c)
	h.RegisterUser("u1", c)

	// One publish addressing both an interest and the user must still
	// deliver exactly once.
	if got := h.PublishBeam([]string{"sports"}, []string{"u1"}, json.RawMessage(`{}`)); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if s.count() != 1 {
		t.Errorf("connection received %d frames, want 1", s.count())
	}
}

func TestBeamUserMultipleDevices(t *testing.T) {
	h := newTestHub()
	d1, s1 := addConn(h, "d1")
	d2, s2 := addConn(h, "d2")
	h.RegisterUser("u1", d1)
	h.RegisterUser("u1", d2)

	if got := h.PublishToUsers([]string{"u1"}, json.RawMessage(`{}`)); got != 2 {
		t.Fatalf("delivered = %d, want 2 (one per device)", got)
	}
	if s1.count() != 1 || s2.count() != 1 {
		t.Error("each device should receive the notification once")
	}
}

func TestBeamUnknownTargets(t *testing.T) {
	h := newTestHub()
	if got := h.PublishToInterests([]string{"nobody"}, nil); got != 0 {
		t.Errorf("delivered = %d to unknown interest, want 0", got)
	}
	if got := h.PublishToUsers([]string{"ghost"}, nil); got != 0 {
		t.Errorf("delivered = %d to unknown user, want 0", got)
	}
}

func TestBeamDeregisterCleansRegistries(t *testing.T) {
	h := newTestHub()
	c, _ := addConn(h, "a")
	h.RegisterInterest("sports", c)
	h.RegisterUser("u1", c)

	h.Deregister(c)

	if got := h.PublishToInterests([]string{"sports"}, nil); got != 0 {
		t.Errorf("delivered = %d after deregister, want 0", got)
	}
	if got := h.PublishToUsers([]string{"u1"}, nil); got != 0 {
		t.Errorf("delivered = %d after deregister, want 0", got)
	}
}

func TestBeamFailedSendIsSilent(t *testing.T) {
	h := newTestHub()
	ok, sOK := addConn(h, "ok")
	broken, sBroken := addConn(h, "broken")
	h.RegisterInterest("sports", ok)
	h.RegisterInterest("sports", broken)
	sBroken.fail = true

	if got := h.PublishToInterests([]string{"sports"}, nil); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	if sOK.count() != 1 {
		t.Error("healthy connection missed the notification")
	}
	if stats := h.Stats(); stats.Connections != 1 {
		t.Errorf("connections = %d after broken beam target, want 1", stats.Connections)
	}
}
