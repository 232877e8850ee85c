package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ddx/pkg/api"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

const writeTimeout = 5 * time.Second

type WebConfig struct {
	Port   int `json:"port"`   // Default: 8080
	Replay int `json:"replay"` // events replayed to a new viewer. Default: 200
}

// ClientMessage is what a viewer may send over the socket.
type ClientMessage struct {
	Type   string              `json:"type"` // "cancel" | "status" | "submit"
	CaseID string              `json:"case_id,omitempty"`
	Case   jsoniter.RawMessage `json:"case,omitempty"`
}

// ServerMessage is everything the channel writes to a viewer.
type ServerMessage struct {
	Type   string          `json:"type"` // "event" | "ack" | "status" | "error"
	Event  *api.TrailEvent `json:"event,omitempty"`
	CaseID string          `json:"case_id,omitempty"`
	Status api.Status      `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SafeConn serializes writes; gorilla connections allow one concurrent writer.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.write(messageType, data)
}

// write requires sc.mu.
func (sc *SafeConn) write(messageType int, data []byte) error {
	_ = sc.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sc.Conn.WriteMessage(messageType, data)
}

func (sc *SafeConn) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return sc.WriteMessage(websocket.TextMessage, data)
}

// replay writes the backlog and then releases sc.mu, which the caller took
// before the viewer became visible to Publish.
func (sc *SafeConn) replay(backlog []api.TrailEvent) error {
	defer sc.mu.Unlock()
	for i := range backlog {
		data, err := json.Marshal(ServerMessage{Type: "event", Event: &backlog[i], CaseID: backlog[i].CaseID, Status: backlog[i].Status})
		if err != nil {
			return err
		}
		if err := sc.write(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// viewer is one connected socket, optionally following a single case.
type viewer struct {
	conn   *SafeConn
	caseID string
}

var _ api.EventFilter = (*viewer)(nil)

func (v *viewer) Accepts(event api.TrailEvent) bool {
	return v.caseID == "" || v.caseID == event.CaseID
}

// WebChannel broadcasts trail events to websocket viewers on /trail and
// accepts cancel, status and submit requests from them.
type WebChannel struct {
	config  WebConfig
	server  *http.Server
	viewers map[*viewer]struct{}
	recent  []api.TrailEvent
	mu      sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	if cfg.Replay <= 0 {
		cfg.Replay = 200
	}
	return &WebChannel{
		config:  cfg,
		viewers: make(map[*viewer]struct{}),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler serves /trail (websocket) and /healthz.
func (c *WebChannel) Handler(ctx api.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/trail", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Trail websocket listening", "port", c.config.Port, "path", "/trail")

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web trail server error", "error", err)
		}
	}()
	return nil
}

func (c *WebChannel) Stop() error {
	c.mu.Lock()
	for v := range c.viewers {
		v.conn.Close()
	}
	c.viewers = make(map[*viewer]struct{})
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

// Publish sends the event to every viewer that follows its case. Viewers
// whose socket fails are dropped.
func (c *WebChannel) Publish(event api.TrailEvent) error {
	c.mu.Lock()
	c.recent = append(c.recent, event)
	if over := len(c.recent) - c.config.Replay; over > 0 {
		c.recent = append([]api.TrailEvent(nil), c.recent[over:]...)
	}
	targets := make([]*viewer, 0, len(c.viewers))
	for v := range c.viewers {
		if v.Accepts(event) {
			targets = append(targets, v)
		}
	}
	c.mu.Unlock()

	msg := ServerMessage{Type: "event", Event: &event, CaseID: event.CaseID, Status: event.Status}
	for _, v := range targets {
		if err := v.conn.send(msg); err != nil {
			slog.Debug("Dropping trail viewer", "error", err)
			c.drop(v)
		}
	}
	return nil
}

func (c *WebChannel) drop(v *viewer) {
	c.mu.Lock()
	delete(c.viewers, v)
	c.mu.Unlock()
	v.conn.Close()
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	v := &viewer{conn: &SafeConn{Conn: rawConn}, caseID: r.URL.Query().Get("case")}

	// 加入廣播名單時先鎖住寫入，回放完才放行即時事件
	c.mu.Lock()
	backlog := make([]api.TrailEvent, 0, len(c.recent))
	for _, e := range c.recent {
		if v.Accepts(e) {
			backlog = append(backlog, e)
		}
	}
	v.conn.mu.Lock()
	c.viewers[v] = struct{}{}
	c.mu.Unlock()
	defer c.drop(v)

	if err := v.conn.replay(backlog); err != nil {
		return
	}

	for {
		_, msgBytes, err := v.conn.ReadMessage()
		if err != nil {
			return
		}

		var in ClientMessage
		if err := json.Unmarshal(msgBytes, &in); err != nil {
			_ = v.conn.send(ServerMessage{Type: "error", Error: "malformed message"})
			continue
		}
		if err := v.conn.send(c.handle(ctx, in)); err != nil {
			return
		}
	}
}

func (c *WebChannel) handle(ctx api.ChannelContext, in ClientMessage) ServerMessage {
	switch in.Type {
	case "cancel":
		if !ctx.CancelCase(in.CaseID) {
			return ServerMessage{Type: "error", CaseID: in.CaseID, Error: "case is not running"}
		}
		slog.Info("Case cancel requested", "channel", c.ID(), "case", in.CaseID)
		return ServerMessage{Type: "ack", CaseID: in.CaseID}
	case "status":
		status, ok := ctx.CaseStatus(in.CaseID)
		if !ok {
			return ServerMessage{Type: "error", CaseID: in.CaseID, Error: "unknown case"}
		}
		return ServerMessage{Type: "status", CaseID: in.CaseID, Status: status}
	case "submit":
		id, err := ctx.SubmitCase(in.Case)
		if err != nil {
			return ServerMessage{Type: "error", Error: err.Error()}
		}
		return ServerMessage{Type: "ack", CaseID: id, Status: api.StatusActive}
	default:
		return ServerMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", in.Type)}
	}
}
