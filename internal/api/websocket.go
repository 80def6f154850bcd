package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suscart-data/freshrelay/internal/monitoring"
	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/wire"
)

const writeTimeout = 10 * time.Second

// handleCamera is the producer endpoint. The camera connects, sends a CBOR
// hello as its first binary message, then streams frame and ping messages.
// A second camera connecting preempts this one.
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("camera upgrade failed: %v", err)
		return
	}

	_, helloData, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	hello, err := wire.DecodeHello(helloData)
	if err != nil {
		writeClose(conn, websocket.CloseUnsupportedData, "bad hello")
		conn.Close()
		return
	}

	session, err := s.hub.Accept(relay.Handshake{
		ProtocolVersion: hello.Version,
		Token:           hello.Token,
	})
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, err.Error())
		conn.Close()
		return
	}

	// Preemption and staleness arrive through the close hook: the read loop
	// below unblocks when the connection dies under it.
	session.SetCloseFunc(func() { conn.Close() })
	monitoring.Logf("camera connected: session %s from %s", session.ID, r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			session.Close(err)
			break
		}
		msg, err := wire.DecodeProducerMessage(data)
		if err != nil {
			monitoring.Logf("camera %s: bad message: %v", session.ID, err)
			continue
		}

		switch msg.Type {
		case wire.TypeFrame:
			capturedAt := time.Now().UTC()
			if msg.CapturedAt != 0 {
				capturedAt = time.Unix(0, msg.CapturedAt).UTC()
			}
			if _, err := session.OnFrame(msg.Payload, capturedAt); err != nil {
				session.Close(err)
			}
		case wire.TypePing:
			if err := session.Heartbeat(); err != nil {
				session.Close(err)
			}
		}

		select {
		case <-session.Done():
		default:
			continue
		}
		break
	}

	conn.Close()
	if err := session.Err(); err != nil && !errors.Is(err, relay.ErrHubClosed) {
		monitoring.Logf("camera session %s ended: %v", session.ID, err)
	}
}

// wsEnvelopeWriter adapts a websocket connection to the subscriber's message
// writer: every frame and event goes out as one JSON envelope.
type wsEnvelopeWriter struct {
	conn *websocket.Conn
}

func (w *wsEnvelopeWriter) WriteFrame(f *relay.Frame) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(wire.FrameEnvelope(f))
}

func (w *wsEnvelopeWriter) WriteEvent(e *relay.StateEvent) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(wire.EventEnvelope(e))
}

// handleLive is the dashboard endpoint. Each connection gets its own
// subscriber with a state snapshot up front, then the live stream.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("live upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub, err := s.hub.Register()
	if err != nil {
		writeClose(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer s.hub.Unregister(sub.ID)
	monitoring.Logf("dashboard connected: subscriber %s from %s", sub.ID, r.RemoteAddr)

	// Drain inbound control frames so pings and close handshakes are
	// processed; dashboards never send data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	err = sub.Run(r.Context(), &wsEnvelopeWriter{conn: conn})
	if errors.Is(err, relay.ErrSlowConsumer) {
		monitoring.Logf("subscriber %s disconnected: too slow for event stream", sub.ID)
		writeClose(conn, websocket.CloseTryAgainLater, "event queue overflow")
		return
	}
	if err != nil {
		monitoring.Logf("subscriber %s ended: %v", sub.ID, err)
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
