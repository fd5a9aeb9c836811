package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/harun/agentkit/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	directionIn  = "in"
	directionOut = "out"

	writeTimeout = 10 * time.Second
)

// Server relays live agent events to websocket clients.
type Server struct {
	addr       string
	appName    string
	voice      string
	modalities []string
	agent      LiveAgent
	sessions   *SessionRegistry
	hooks      *hooks.Manager
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	server     *http.Server
	listener   net.Listener
	conns      sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host       string
	Port       int
	AppName    string
	Voice      string
	Modalities []string
	Agent      LiveAgent
	Registry   *SessionRegistry
	Hooks      *hooks.Manager
	Logger     zerolog.Logger
}

// NewServer creates a relay server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("live agent is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewSessionRegistry()
	}
	if cfg.AppName == "" {
		cfg.AppName = session.DefaultAppName
	}
	observability.EnsureRegistered()

	return &Server{
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		appName:    cfg.AppName,
		voice:      cfg.Voice,
		modalities: cfg.Modalities,
		agent:      cfg.Agent,
		sessions:   cfg.Registry,
		hooks:      cfg.Hooks,
		logger:     cfg.Logger.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{session_id}", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler()}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting relay server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Relay server error")
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down and waits for open connections to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down relay server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, live connections still open")
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.sessions.Get(sessionID); err == nil {
		http.Error(w, ErrSessionExists.Error(), http.StatusConflict)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = session.DefaultUserID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	connID, _ := gonanoid.New()
	live := &Session{
		ID:           sessionID,
		ConnectionID: connID,
		AppName:      s.appName,
		UserID:       userID,
		Voice:        s.voice,
		Modalities:   s.modalities,
		Queue:        NewLiveRequestQueue(DefaultQueueSize),
		ConnectedAt:  time.Now(),
	}
	if err := s.sessions.Create(live); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Rejecting duplicate live session")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()
	s.serve(conn, live)
}

// serve runs both pumps and tears the session down when either one ends.
func (s *Server) serve(conn *websocket.Conn, live *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = tracing.NewAgentRunContext(ctx, "", live.ID, live.UserID)
	ctx, span := tracing.StartSpan(ctx, "agentkit.relay", "relay.session",
		attribute.String("session_id", live.ID),
		attribute.String("connection_id", live.ConnectionID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger).With().
		Str("session_id", live.ID).
		Str("connection_id", live.ConnectionID).
		Logger()

	logger.Info().
		Str("user_id", live.UserID).
		Str("voice", live.Voice).
		Strs("modalities", live.Modalities).
		Msg("Live session started")
	observability.RelayConnected()
	s.hooks.Fire(ctx, hooks.EventRelayConnected, map[string]any{
		"session_id":    live.ID,
		"connection_id": live.ConnectionID,
		"user_id":       live.UserID,
	})

	defer func() {
		cancel()
		live.Queue.Close()
		conn.Close()
		s.sessions.Remove(live.ID)
		observability.RelayDisconnected()
		s.hooks.Fire(context.Background(), hooks.EventRelayDisconnected, map[string]any{
			"session_id":    live.ID,
			"connection_id": live.ConnectionID,
		})
		logger.Info().Msg("Live session closed")
	}()

	events, err := s.agent.RunLive(ctx, live, live.Queue)
	if err != nil {
		tracing.Fail(span, err)
		logger.Error().Err(err).Msg("Failed to start live agent")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.downstream(ctx, conn, events, logger)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.upstream(ctx, conn, live.Queue, logger)
	}()

	<-ctx.Done()
	// Unblock the reader and the agent.
	live.Queue.Close()
	conn.Close()
	wg.Wait()
}

// downstream forwards agent events to the client until the event stream
// ends, ctx is cancelled or a write fails.
func (s *Server) downstream(ctx context.Context, conn *websocket.Conn, events <-chan *session.Event, logger zerolog.Logger) {
	var enc Encoder
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, send := enc.Encode(ev)
			if !send {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to send live message")
				return
			}
			observability.RecordRelayMessage(directionOut, msg.Type)
		}
	}
}

// upstream reads client frames into the queue until the connection closes.
func (s *Server) upstream(ctx context.Context, conn *websocket.Conn, queue *LiveRequestQueue, logger zerolog.Logger) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Error().Err(err).Msg("WebSocket error")
			} else {
				logger.Debug().Msg("WebSocket connection closed by client")
			}
			return
		}

		req, msgType, err := DecodeInbound(raw)
		if err != nil {
			logger.Warn().Err(err).Str("type", msgType).Msg("Ignoring malformed live message")
			continue
		}
		if req == nil {
			logger.Debug().Str("type", msgType).Msg("Ignoring unknown live message type")
			continue
		}
		observability.RecordRelayMessage(directionIn, msgType)

		if err := queue.Send(*req); err != nil {
			return
		}
	}
}
