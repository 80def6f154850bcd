package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/testutil"
	"github.com/suscart-data/freshrelay/internal/wire"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dialCamera(t *testing.T, srv *httptest.Server, hello wire.ProducerHello) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/camera"), nil)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { conn.Close() })

	data, err := wire.EncodeHello(hello)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	data, err := wire.EncodeProducerMessage(wire.NewFrameMessage(payload, time.Now()))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env wire.Envelope
	testutil.AssertNoError(t, conn.ReadJSON(&env))
	return env
}

func TestCameraToDashboard(t *testing.T) {
	apiSrv, hub, _ := setupTestServer(t)
	ts := httptest.NewServer(apiSrv.ServeMux())
	defer ts.Close()

	live, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/live"), nil)
	testutil.AssertNoError(t, err)
	defer live.Close()

	camera := dialCamera(t, ts, wire.ProducerHello{Version: relay.ProtocolVersion})

	// The hub accepts the producer asynchronously to the dial returning.
	waitFor(t, func() bool { return hub.ProducerActive() })

	sendFrame(t, camera, []byte("jpeg-1"))

	env := readEnvelope(t, live)
	if env.Type != wire.TypeFrame {
		t.Fatalf("envelope type = %q, want frame", env.Type)
	}
	if string(env.Payload) != "jpeg-1" {
		t.Errorf("payload = %q, want jpeg-1", env.Payload)
	}
	if env.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", env.Sequence)
	}
}

func TestCameraHandshakeRejected(t *testing.T) {
	apiSrv, hub, _ := setupTestServer(t)
	ts := httptest.NewServer(apiSrv.ServeMux())
	defer ts.Close()

	conn := dialCamera(t, ts, wire.ProducerHello{Version: 99})

	// The server closes the connection without accepting a session.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after rejected handshake")
	}
	if hub.ProducerActive() {
		t.Error("rejected handshake must not claim the producer slot")
	}
}

func TestCameraPreemption(t *testing.T) {
	apiSrv, hub, _ := setupTestServer(t)
	ts := httptest.NewServer(apiSrv.ServeMux())
	defer ts.Close()

	first := dialCamera(t, ts, wire.ProducerHello{Version: relay.ProtocolVersion})
	waitFor(t, func() bool { return hub.ProducerActive() })

	second := dialCamera(t, ts, wire.ProducerHello{Version: relay.ProtocolVersion})
	// Give the second session time to claim the slot, then verify the first
	// connection was torn down.
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("expected first camera connection to be closed on preemption")
	}

	live, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/live"), nil)
	testutil.AssertNoError(t, err)
	defer live.Close()

	sendFrame(t, second, []byte("jpeg-2"))
	env := readEnvelope(t, live)
	if string(env.Payload) != "jpeg-2" {
		t.Errorf("payload = %q, want jpeg-2", env.Payload)
	}
}

func TestDashboardSnapshotOnJoin(t *testing.T) {
	apiSrv, _, store := setupTestServer(t)
	ts := httptest.NewServer(apiSrv.ServeMux())
	defer ts.Close()

	item, err := store.CreateItem("oranges", 7, 0.95)
	testutil.AssertNoError(t, err)

	live, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/live"), nil)
	testutil.AssertNoError(t, err)
	defer live.Close()

	env := readEnvelope(t, live)
	if env.Type != wire.TypeEvent {
		t.Fatalf("envelope type = %q, want event", env.Type)
	}
	if !env.Snapshot {
		t.Error("first envelope should be a snapshot event")
	}
	if env.SubjectID != item.ID {
		t.Errorf("subject id = %d, want %d", env.SubjectID, item.ID)
	}
}

func TestDashboardSeesInventoryMutations(t *testing.T) {
	apiSrv, _, _ := setupTestServer(t)
	ts := httptest.NewServer(apiSrv.ServeMux())
	defer ts.Close()

	live, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/live"), nil)
	testutil.AssertNoError(t, err)
	defer live.Close()

	resp := postJSON(t, apiSrv.ServeMux(), "/api/items", map[string]interface{}{
		"name": "kiwis", "quantity": 2,
	})
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusCreated)

	env := readEnvelope(t, live)
	if env.Type != wire.TypeEvent {
		t.Fatalf("envelope type = %q, want event", env.Type)
	}
	if env.Kind != relay.EventItemAdded {
		t.Errorf("kind = %q, want %s", env.Kind, relay.EventItemAdded)
	}
	if env.Snapshot {
		t.Error("live mutation must not carry the snapshot flag")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
