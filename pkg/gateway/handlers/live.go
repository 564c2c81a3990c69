package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autocally/autocally/pkg/call"
	"github.com/autocally/autocally/pkg/call/protocol"
	"github.com/autocally/autocally/pkg/gateway/config"
	"github.com/autocally/autocally/pkg/gateway/mw"
	"github.com/autocally/autocally/pkg/gateway/sessions"
)

// LiveCallHandler serves the /v1/calls/stream websocket. One connection
// carries one call; reconnecting with the same call_id resumes it.
type LiveCallHandler struct {
	Config       config.Config
	Orchestrator *call.Orchestrator
	Logger       *slog.Logger
	LiveConns    *sessions.Tracker
}

func (h LiveCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	if err := h.authorize(r); err != nil {
		writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		// Callers authenticate with an api key, not a cookie, so any origin
		// may connect.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	client := newWSClient(conn, h.Config.WSWriteTimeout, h.Config.WSPingInterval)
	defer client.shutdown()

	callID := strings.TrimSpace(r.URL.Query().Get("call_id"))
	phoneNumberID := strings.TrimSpace(r.URL.Query().Get("phone_number_id"))
	assistantID := strings.TrimSpace(r.URL.Query().Get("assistant_id"))
	phoneNumber := strings.TrimSpace(r.URL.Query().Get("phone_number"))

	unregister := func() {}
	registerConn := func(id string) {
		if h.LiveConns == nil || id == "" {
			return
		}
		unregister()
		unregister = h.LiveConns.Register(id, sessions.Handle{
			Cancel: client.shutdown,
			Notify: func(code, message string) error {
				return client.Emit(protocol.ServerErrorEvent{
					Type: protocol.TypeError, CallID: id, Code: code, Message: message,
				})
			},
		})
	}
	defer func() { unregister() }()

	if callID != "" {
		registerConn(callID)
		h.Orchestrator.Connect(r.Context(), client, callID, phoneNumberID, assistantID, phoneNumber)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				_ = client.Emit(protocol.ServerErrorEvent{
					Type: protocol.TypeError, CallID: callID, Code: de.Code, Message: de.Error(),
				})
				continue
			}
			break
		}

		switch msg := decoded.(type) {
		case protocol.ClientCallStarted:
			callID = msg.CallID
			registerConn(callID)
			h.Orchestrator.CallStarted(r.Context(), client, msg)
		case protocol.ClientStartSTT:
			h.Orchestrator.StartSTT(r.Context(), msg.CallID)
		case protocol.ClientSTTAudioChunk:
			h.Orchestrator.AudioChunk(r.Context(), client, msg)
		case protocol.ClientStopSTT:
			h.Orchestrator.StopSTT(r.Context(), msg.CallID)
		case protocol.ClientCallEnded:
			h.Orchestrator.CallEnded(r.Context(), msg.CallID)
		}
	}

	// A dropped socket is not the end of the call; the session stays
	// resumable until the terminal status arrives or the janitor evicts it.
	if callID != "" {
		h.Orchestrator.Disconnected(client, callID)
	}
}

func (h LiveCallHandler) authorize(r *http.Request) error {
	switch h.Config.AuthMode {
	case config.AuthModeDisabled:
		return nil
	case config.AuthModeOptional, config.AuthModeRequired:
	default:
		return errors.New("invalid auth mode")
	}

	// Browsers cannot set headers on websocket dials, so the key may also
	// arrive as a query parameter.
	token, ok := mw.ParseBearer(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	if token == "" {
		if h.Config.AuthMode == config.AuthModeRequired {
			return errors.New("missing api key")
		}
		return nil
	}
	if _, ok := h.Config.APIKeys[token]; !ok {
		return errors.New("invalid api key")
	}
	return nil
}

var errClientGone = errors.New("websocket client gone")

// wsClient serializes all writes to one websocket connection through a
// single writer goroutine, so the orchestrator can emit from any goroutine.
type wsClient struct {
	conn         *websocket.Conn
	out          chan any
	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSClient(conn *websocket.Conn, writeTimeout, pingInterval time.Duration) *wsClient {
	c := &wsClient{
		conn:         conn,
		out:          make(chan any, 256),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		closed:       make(chan struct{}),
	}
	go c.writer()
	return c
}

// Emit queues one server event. It fails when the connection is gone or the
// client cannot keep up, which makes the orchestrator buffer audio instead.
func (c *wsClient) Emit(event any) error {
	select {
	case <-c.closed:
		return errClientGone
	default:
	}
	select {
	case c.out <- event:
		return nil
	case <-c.closed:
		return errClientGone
	default:
		return errors.New("websocket outbound queue full")
	}
}

func (c *wsClient) writer() {
	pingInterval := c.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.out:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
