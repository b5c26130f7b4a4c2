// Package gateway implements the WebSocket protocol UI clients use to talk
// to an agent: a small JSON-RPC-shaped request/response/event envelope,
// grounded on the teacher's internal/gateway connection-handling idiom but
// narrowed to the well-known methods and events this system defines.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/kavyleancoder/meepo/internal/autonomy"
	"github.com/kavyleancoder/meepo/internal/config"
	"github.com/kavyleancoder/meepo/internal/knowledge"
	"github.com/kavyleancoder/meepo/internal/telemetry"
	"github.com/kavyleancoder/meepo/internal/tools"
)

// Store is the slice of the knowledge store session history needs.
type Store interface {
	GetRecentConversations(ctx context.Context, channel string, limit int) ([]knowledge.Conversation, error)
}

// Config configures a Server.
type Config struct {
	Store Store

	// Incoming is where message.send calls are pushed for the autonomy
	// loop to pick up on its next tick.
	Incoming chan<- autonomy.IncomingMessage

	// Outgoing is drained by the server and fanned out as
	// message.received events to every connected client.
	Outgoing <-chan autonomy.OutgoingMessage

	AuthToken string

	// APIKeys, if enabled, layers per-key auth (for multiple automation
	// clients, each revocable independently) in front of AuthToken's
	// single shared-secret check on the WS upgrade.
	APIKeys config.AuthConfig

	// CORS and RateLimit configure the corresponding HTTP middleware. Zero
	// values leave both disabled.
	CORS      config.CORSConfig
	RateLimit config.RateLimitConfig

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty means same-origin only.
	AllowOrigins []string

	// Metrics, if set, records rate-limit rejections. Nil disables that
	// counter without otherwise affecting rate limiting.
	Metrics *telemetry.Metrics

	// Catalog, if set, is called on every status.get request to report
	// which tools/skills are configured and enabled. Nil omits the
	// "skills" field from the response instead of erroring.
	Catalog func() []tools.SkillStatus

	Logger *slog.Logger
}

// sessionChannelPrefix namespaces gateway session IDs within the opaque
// "name:target" channel routing convention shared with internal/channels
// and the scheduler's watcher reply channels.
const sessionChannelPrefix = "gateway"

// Server serves the gateway WebSocket protocol.
type Server struct {
	cfg    Config
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	sessionsMu sync.Mutex
	sessions   map[string]time.Time

	startedAt time.Time
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// New builds a Server. If cfg.Outgoing is non-nil, the server launches a
// background goroutine fanning it out as message.received events.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		clients:   map[*client]struct{}{},
		sessions:  map[string]time.Time{},
		startedAt: time.Now(),
	}
	if cfg.Outgoing != nil {
		go s.forwardOutgoing()
	}
	return s
}

func (s *Server) forwardOutgoing() {
	for msg := range s.cfg.Outgoing {
		sessionID := msg.Channel
		if prefix := sessionChannelPrefix + ":"; strings.HasPrefix(msg.Channel, prefix) {
			sessionID = strings.TrimPrefix(msg.Channel, prefix)
		}
		s.broadcast(EventMessageReceived, map[string]any{
			"session_id": sessionID,
			"content":    msg.Content,
			"kind":       msg.Kind,
		})
	}
}

// Handler builds the server's http.Handler. When cfg.APIKeys is enabled,
// every request must also carry a registered per-client key, independent of
// the single shared AuthToken checked on the WebSocket upgrade itself. CORS
// and rate limiting apply in front of both, when configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	var h http.Handler = mux
	h = NewAuthMiddleware(s.cfg.APIKeys).WithLogger(s.logger).Wrap(h)
	h = NewRateLimitMiddleware(s.cfg.RateLimit).WithMetrics(s.cfg.Metrics).Wrap(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	h = RequestSizeLimitMiddleware(defaultMaxBodyBytes)(h)
	return h
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(authz, "Bearer ")
	return ok && strings.TrimSpace(token) == s.cfg.AuthToken
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Info("gateway: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("gateway: client disconnected")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req Request
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		resp := s.handleRequest(r.Context(), req)
		if err := c.write(r.Context(), resp); err != nil {
			s.logger.Warn("gateway: write response failed", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodMessageSend:
		return s.handleMessageSend(ctx, req)
	case MethodSessionList:
		return s.handleSessionList(req)
	case MethodSessionNew:
		return s.handleSessionNew(req)
	case MethodSessionHistory:
		return s.handleSessionHistory(ctx, req)
	case MethodStatusGet:
		return s.handleStatusGet(req)
	default:
		return errResponse(req.ID, ErrInvalidMethod, fmt.Sprintf("unknown method %q", req.Method))
	}
}

type messageSendParams struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (s *Server) handleMessageSend(ctx context.Context, req Request) Response {
	var p messageSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" || p.Content == "" {
		return errResponse(req.ID, ErrInvalidParams, "session_id and content are required")
	}
	if s.cfg.Incoming == nil {
		return errResponse(req.ID, ErrInternal, "gateway not wired to an inference loop")
	}

	in := autonomy.IncomingMessage{
		Sender:    "gateway",
		Channel:   fmt.Sprintf("%s:%s", sessionChannelPrefix, p.SessionID),
		Content:   p.Content,
		Timestamp: time.Now(),
	}
	select {
	case s.cfg.Incoming <- in:
	case <-ctx.Done():
		return errResponse(req.ID, ErrInternal, "request cancelled")
	default:
		return errResponse(req.ID, ErrInternal, "incoming queue full")
	}

	s.touchSession(p.SessionID)
	return okResponse(req.ID, map[string]any{"accepted": true})
}

func (s *Server) handleSessionList(req Request) Response {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return okResponse(req.ID, map[string]any{"sessions": ids})
}

func (s *Server) handleSessionNew(req Request) Response {
	id := uuid.NewString()
	s.touchSession(id)
	s.broadcast(EventSessionCreated, map[string]any{"session_id": id})
	return okResponse(req.ID, map[string]any{"session_id": id})
}

type sessionHistoryParams struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

func (s *Server) handleSessionHistory(ctx context.Context, req Request) Response {
	var p sessionHistoryParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		return errResponse(req.ID, ErrInvalidParams, "session_id is required")
	}
	if s.cfg.Store == nil {
		return errResponse(req.ID, ErrInternal, "gateway not wired to a store")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	channel := fmt.Sprintf("%s:%s", sessionChannelPrefix, p.SessionID)
	convos, err := s.cfg.Store.GetRecentConversations(ctx, channel, limit)
	if err != nil {
		return errResponse(req.ID, ErrInternal, fmt.Sprintf("failed to load history: %v", err))
	}
	return okResponse(req.ID, map[string]any{"messages": convos})
}

func (s *Server) handleStatusGet(req Request) Response {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()
	s.sessionsMu.Lock()
	sessionCount := len(s.sessions)
	s.sessionsMu.Unlock()

	result := map[string]any{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"clients":        clientCount,
		"sessions":       sessionCount,
	}
	if s.cfg.Catalog != nil {
		result["skills"] = s.cfg.Catalog()
	}
	return okResponse(req.ID, result)
}

func (s *Server) touchSession(id string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[id] = time.Now()
}

// broadcast pushes an event to every connected client.
func (s *Server) broadcast(event string, data any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		if err := c.write(context.Background(), Event{Event: event, Data: data}); err != nil {
			s.logger.Warn("gateway: broadcast failed", "event", event, "error", err)
		}
	}
}

// PushCanvas broadcasts a canvas.push/reset/eval/snapshot event, used by
// tools that render UI content into a connected client's canvas.
func (s *Server) PushCanvas(event string, data any) {
	s.broadcast(event, data)
}

// PushToolExecuting broadcasts that a tool call has started, letting
// clients show progress.
func (s *Server) PushToolExecuting(toolName string) {
	s.broadcast(EventToolExecuting, map[string]any{"tool": toolName})
}

// PushSkillNotice broadcasts a skill.notice event — compile/load/quarantine
// status from the WASM skill hot-reload watcher — so a connected UI can show
// skill-authoring feedback without polling.
func (s *Server) PushSkillNotice(level, message string) {
	s.broadcast(EventSkillNotice, map[string]any{"level": level, "message": message})
}

// PushTyping broadcasts typing.start/typing.stop.
func (s *Server) PushTyping(sessionID string, typing bool) {
	event := EventTypingStop
	if typing {
		event = EventTypingStart
	}
	s.broadcast(event, map[string]any{"session_id": sessionID})
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}
