package dispatch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetglass/courier.track/internal/wire"
	"github.com/gorilla/websocket"
)

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) (string, any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msgType, payload, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msgType, payload
}

func TestWebsocketSubscribeAndFix(t *testing.T) {
	s := NewService(DefaultConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	producer := dialTest(t, srv)
	dashboard := dialTest(t, srv)

	sendMsg(t, dashboard, wire.TypeSubscribe, wire.Subscribe{AgentID: "courier-1"})
	msgType, payload := readMsg(t, dashboard)
	if msgType != wire.TypeSubscribed {
		t.Fatalf("ack type = %q, want subscribed", msgType)
	}
	if ack := payload.(*wire.Subscribed); ack.HasPosition {
		t.Fatalf("ack for unseen agent has position: %+v", ack)
	}

	speed := 30.0
	sendMsg(t, producer, wire.TypeFix, wire.Fix{
		AgentID:   "courier-1",
		Lat:       19.1890,
		Lng:       72.8398,
		SpeedKmh:  &speed,
		Timestamp: time.Now(),
	})

	msgType, payload = readMsg(t, producer)
	if msgType != wire.TypeAck {
		t.Fatalf("producer frame type = %q, want ack", msgType)
	}
	if ack := payload.(*wire.Ack); !ack.OK || ack.AgentID != "courier-1" {
		t.Fatalf("fix ack = %+v", ack)
	}

	msgType, payload = readMsg(t, dashboard)
	if msgType != wire.TypeStatus {
		t.Fatalf("frame type = %q, want status", msgType)
	}
	if st := payload.(*wire.Status); !st.Active {
		t.Fatalf("status frame = %+v, want active", st)
	}

	msgType, payload = readMsg(t, dashboard)
	if msgType != wire.TypePosition {
		t.Fatalf("frame type = %q, want position", msgType)
	}
	pos := payload.(*wire.Position)
	if pos.AgentID != "courier-1" || pos.Lat != 19.1890 {
		t.Fatalf("position frame = %+v", pos)
	}
}

func TestWebsocketRejectsBadFrames(t *testing.T) {
	s := NewService(DefaultConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)

	// Out-of-range latitude fails validation at the boundary.
	sendMsg(t, conn, wire.TypeFix, wire.Fix{AgentID: "c", Lat: 200, Lng: 0, Timestamp: time.Now()})
	msgType, payload := readMsg(t, conn)
	if msgType != wire.TypeError {
		t.Fatalf("frame type = %q, want error", msgType)
	}
	if e := payload.(*wire.Error); e.Code != wire.CodeBadPayload {
		t.Fatalf("error code = %q, want bad_payload", e.Code)
	}

	// Unknown type tags get their own code.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp","data":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgType, payload = readMsg(t, conn)
	if msgType != wire.TypeError {
		t.Fatalf("frame type = %q, want error", msgType)
	}
	if e := payload.(*wire.Error); e.Code != wire.CodeUnknownType {
		t.Fatalf("error code = %q, want unknown_type", e.Code)
	}

	// Unsubscribing from a room never joined is reported, not ignored.
	sendMsg(t, conn, wire.TypeUnsubscribe, wire.Unsubscribe{AgentID: "c"})
	msgType, payload = readMsg(t, conn)
	if msgType != wire.TypeError {
		t.Fatalf("frame type = %q, want error", msgType)
	}
	if e := payload.(*wire.Error); e.Code != wire.CodeNotSubscribed {
		t.Fatalf("error code = %q, want not_subscribed", e.Code)
	}
}

func TestWebsocketCloseEvictsSubscriptions(t *testing.T) {
	s := NewService(DefaultConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)
	sendMsg(t, conn, wire.TypeSubscribe, wire.Subscribe{AgentID: "courier-1"})
	readMsg(t, conn)

	if got := s.SubscriberCount("courier-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount("courier-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not evicted after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
