package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/auth"
	"github.com/Soulfra/pulsegrid/internal/pubsub"
)

const testSecret = "gateway-test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *pubsub.Hub) {
	t.Helper()
	hub := pubsub.NewHub(auth.NewVerifier(testSecret), zerolog.Nop())
	gw := New(hub, Config{
		MaxMessageSize:  10240,
		ActivityTimeout: 120 * time.Second,
		RateBurst:       100,
		RateRefill:      time.Second,
		AllowedOrigins:  []string{"*"},
	}, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(srv.Close)
	return srv, hub
}

// dial connects and consumes the connection_established frame, returning the
// connection and its socket id.
func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	frame := readFrame(t, ws)
	if event := frameEvent(t, frame); event != "pusher:connection_established" {
		t.Fatalf("first frame event = %q, want pusher:connection_established", event)
	}
	var data struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal(frame["data"], &data); err != nil {
		t.Fatalf("unmarshal established data: %v", err)
	}
	if data.SocketID == "" {
		t.Fatal("connection_established missing socket_id")
	}
	if data.ActivityTimeout != 120 {
		t.Fatalf("activity_timeout = %d, want 120", data.ActivityTimeout)
	}
	return ws, data.SocketID
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	return frame
}

func frameEvent(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var event string
	if raw, ok := frame["event"]; ok {
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
	}
	return event
}

func sendFrame(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func subscribe(t *testing.T, ws *websocket.Conn, channel, token string) map[string]json.RawMessage {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"event": "pusher:subscribe",
		"data":  map[string]string{"channel": channel, "auth": token},
	})
	sendFrame(t, ws, string(body))

	frame := readFrame(t, ws)
	if event := frameEvent(t, frame); event != "pusher_internal:subscription_succeeded" {
		t.Fatalf("subscribe reply event = %q, want subscription_succeeded", event)
	}
	return frame
}

func assertNoFrame(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, _ := dial(t, srv)

	sendFrame(t, ws, `{"event":"pusher:ping"}`)
	if event := frameEvent(t, readFrame(t, ws)); event != "pusher:pong" {
		t.Errorf("reply event = %q, want pusher:pong", event)
	}
}

func TestPublicSubscribeAndServerPublish(t *testing.T) {
	srv, hub := newTestServer(t)
	wsA, _ := dial(t, srv)
	wsB, _ := dial(t, srv)

	subscribe(t, wsA, "news", "")
	subscribe(t, wsB, "news", "")

	hub.Publish("news", "headline", json.RawMessage(`{"text":"hi"}`), nil)

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		frame := readFrame(t, ws)
		if event := frameEvent(t, frame); event != "headline" {
			t.Fatalf("event = %q, want headline", event)
		}
		var channel string
		_ = json.Unmarshal(frame["channel"], &channel)
		if channel != "news" {
			t.Errorf("channel = %q, want news", channel)
		}
		if string(frame["data"]) != `{"text":"hi"}` {
			t.Errorf("data = %s, want payload verbatim", frame["data"])
		}
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, _ := dial(t, srv)

	sendFrame(t, ws, `this is not json`)
	if event := frameEvent(t, readFrame(t, ws)); event != "pusher:error" {
		t.Fatalf("reply event = %q, want pusher:error", event)
	}

	// Connection must survive the bad frame.
	sendFrame(t, ws, `{"event":"pusher:ping"}`)
	if event := frameEvent(t, readFrame(t, ws)); event != "pusher:pong" {
		t.Errorf("ping after bad frame: reply = %q, want pusher:pong", event)
	}
}

func TestUnknownEventGetsErrorReply(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, _ := dial(t, srv)

	sendFrame(t, ws, `{"event":"pusher:mystery"}`)
	if event := frameEvent(t, readFrame(t, ws)); event != "pusher:error" {
		t.Errorf("reply event = %q, want pusher:error", event)
	}
}

func TestPrivateChannelClientEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	wsA, idA := dial(t, srv)
	wsB, idB := dial(t, srv)

	tokenA := signToken(t, idA, "private-room", pubsub.Identity{})
	tokenB := signToken(t, idB, "private-room", pubsub.Identity{})
	subscribe(t, wsA, "private-room", tokenA)
	subscribe(t, wsB, "private-room", tokenB)

	sendFrame(t, wsA, `{"event":"client-typing","channel":"private-room","data":{"busy":true}}`)

	frame := readFrame(t, wsB)
	if event := frameEvent(t, frame); event != "client-typing" {
		t.Fatalf("peer event = %q, want client-typing", event)
	}
	if string(frame["data"]) != `{"busy":true}` {
		t.Errorf("data = %s, want payload verbatim", frame["data"])
	}

	// The sender must not receive its own event.
	assertNoFrame(t, wsA)
}

func TestClientEventOnPublicChannelIsDropped(t *testing.T) {
	srv, _ := newTestServer(t)
	wsA, _ := dial(t, srv)
	wsB, _ := dial(t, srv)
	subscribe(t, wsA, "news", "")
	subscribe(t, wsB, "news", "")

	sendFrame(t, wsA, `{"event":"client-spam","channel":"news","data":{}}`)

	// Silent drop: no error to the sender, nothing to the peer.
	assertNoFrame(t, wsA)
	assertNoFrame(t, wsB)
}

func TestBadAuthGetsSubscriptionError(t *testing.T) {
	srv, _ := newTestServer(t)
	ws, _ := dial(t, srv)

	sendFrame(t, ws, `{"event":"pusher:subscribe","data":{"channel":"private-room","auth":"bogus"}}`)

	frame := readFrame(t, ws)
	if event := frameEvent(t, frame); event != "pusher:subscription_error" {
		t.Fatalf("reply event = %q, want pusher:subscription_error", event)
	}
	var channel string
	_ = json.Unmarshal(frame["channel"], &channel)
	if channel != "private-room" {
		t.Errorf("channel = %q, want private-room", channel)
	}

	// Auth failure never closes the connection.
	sendFrame(t, ws, `{"event":"pusher:ping"}`)
	if event := frameEvent(t, readFrame(t, ws)); event != "pusher:pong" {
		t.Errorf("ping after auth failure: reply = %q, want pusher:pong", event)
	}
}

func TestPresenceOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	wsA, idA := dial(t, srv)

	tokenA := signToken(t, idA, "presence-lobby", pubsub.Identity{
		UserID:   "u1",
		UserInfo: json.RawMessage(`{"name":"Ada"}`),
	})
	frameA := subscribe(t, wsA, "presence-lobby", tokenA)

	var dataA struct {
		Presence struct {
			Count int      `json:"count"`
			IDs   []string `json:"ids"`
		} `json:"presence"`
	}
	if err := json.Unmarshal(frameA["data"], &dataA); err != nil {
		t.Fatalf("unmarshal presence data: %v", err)
	}
	if dataA.Presence.Count != 1 || len(dataA.Presence.IDs) != 1 || dataA.Presence.IDs[0] != "u1" {
		t.Fatalf("presence data = %+v, want just u1", dataA.Presence)
	}

	wsB, idB := dial(t, srv)
	tokenB := signToken(t, idB, "presence-lobby", pubsub.Identity{UserID: "u2"})
	subscribe(t, wsB, "presence-lobby", tokenB)

	frame := readFrame(t, wsA)
	if event := frameEvent(t, frame); event != "pusher_internal:member_added" {
		t.Fatalf("event = %q, want member_added", event)
	}
	var member struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(frame["data"], &member); err != nil {
		t.Fatalf("unmarshal member data: %v", err)
	}
	if member.UserID != "u2" {
		t.Errorf("member_added user_id = %q, want u2", member.UserID)
	}

	// A disconnects; B sees exactly one member_removed for u1.
	wsA.Close()
	frame = readFrame(t, wsB)
	if event := frameEvent(t, frame); event != "pusher_internal:member_removed" {
		t.Fatalf("event = %q, want member_removed", event)
	}
	if err := json.Unmarshal(frame["data"], &member); err != nil {
		t.Fatalf("unmarshal member data: %v", err)
	}
	if member.UserID != "u1" {
		t.Errorf("member_removed user_id = %q, want u1", member.UserID)
	}
}

func TestBeamRegistrationOverWire(t *testing.T) {
	srv, hub := newTestServer(t)
	ws, _ := dial(t, srv)

	sendFrame(t, ws, `{"event":"beam:register_interest","data":{"interest":"sports"}}`)
	sendFrame(t, ws, `{"event":"pusher:ping"}`)
	readFrame(t, ws) // pong confirms both frames were processed

	if got := hub.PublishToInterests([]string{"sports"}, json.RawMessage(`{"title":"goal"}`)); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
	frame := readFrame(t, ws)
	var kind string
	_ = json.Unmarshal(frame["type"], &kind)
	if kind != "beam" {
		t.Errorf("frame type = %q, want beam", kind)
	}
}

func signToken(t *testing.T, socketID, channel string, ident pubsub.Identity) string {
	t.Helper()
	token, err := auth.Sign(testSecret, socketID, channel, ident, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
