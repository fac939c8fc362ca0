// Package wstransport adapts WebSocket connections onto the registry: it
// owns the HTTP upgrade, token extraction, and the read/write pump pair
// for each connection. The registry never sees the handshake; the pumps
// translate between websocket messages and wire frames.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeshaw/envdecode"

	"github.com/wirehub/wirehub/auth"
	"github.com/wirehub/wirehub/internal/logctx"
	"github.com/wirehub/wirehub/registry"
	"github.com/wirehub/wirehub/wire"
)

// methodAuth is the in-band authentication request method. It is handled
// by the transport, not the application request handler, because it
// mutates connection state (identity attachment).
const methodAuth = "auth"

// tokenSubprotocolPrefix carries a bearer token where browser WebSocket
// clients cannot set headers.
const tokenSubprotocolPrefix = "token."

// Config tunes the transport. The zero value works for local development.
type Config struct {
	// AllowedOrigins lists Origin header values accepted on upgrade. Empty
	// means same-host only (requests without an Origin header always pass).
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS"`
	// ReadLimit caps a single inbound message in bytes.
	ReadLimit int64 `env:"WS_READ_LIMIT,default=1048576"`
	// WriteTimeout bounds each outbound websocket write.
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT,default=10s"`
	// HandshakeTimeout bounds the upgrade handshake.
	HandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT,default=10s"`

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigFromEnv builds a Config from WS_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them. It implements http.Handler.
type Handler struct {
	reg      *registry.Registry
	gate     auth.Gate
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New constructs a Handler. gate may be nil, in which case connections can
// only ever operate unauthenticated (handshake tokens are rejected, the
// in-band auth request fails).
func New(reg *registry.Registry, gate auth.Gate, cfg Config) *Handler {
	cfg.applyDefaults()
	h := &Handler{
		reg:  reg,
		gate: gate,
		cfg:  cfg,
		log:  cfg.Logger,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		// Same-host only: mirrors the gorilla default behavior.
		return strings.EqualFold(originHost(origin), r.Host)
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	rest := origin
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// extractToken pulls a bearer token from the handshake, checking the
// Authorization header, then X-Auth-Token, then the token subprotocol.
// The second return is the matched subprotocol (empty when the token came
// from a header) so the upgrade response can echo it.
func extractToken(r *http.Request) (string, string) {
	if v := r.Header.Get("Authorization"); v != "" {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok {
			return tok, ""
		}
	}
	if v := r.Header.Get("X-Auth-Token"); v != "" {
		return v, ""
	}
	for _, proto := range websocket.Subprotocols(r) {
		if tok, ok := strings.CutPrefix(proto, tokenSubprotocolPrefix); ok {
			return tok, proto
		}
	}
	return "", ""
}

// ServeHTTP authenticates the handshake token if one is present, upgrades
// the connection, registers it, and starts the pump pair. A connection
// with no handshake token is admitted unauthenticated; it can complete an
// in-band auth request later.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ident *auth.Identity
	token, subproto := extractToken(r)
	if token != "" {
		if h.gate == nil {
			http.Error(w, "authentication not supported", http.StatusUnauthorized)
			return
		}
		var err error
		ident, err = h.gate.Authenticate(r.Context(), token)
		if err != nil {
			// One rejection for the whole invalid-session class.
			h.log.Debug("handshake token rejected", slog.String("err", err.Error()))
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
	}

	var respHeader http.Header
	if subproto != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": []string{subproto}}
	}

	ws, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", slog.String("err", err.Error()))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	handle := h.reg.Register(ctx)

	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		ConnectionID: string(handle.ID),
		RemoteAddr:   r.RemoteAddr,
	})

	if ident != nil {
		if err := h.reg.AttachIdentity(handle.ID, ident); err != nil {
			h.log.Error("failed to attach handshake identity",
				slog.String("conn_id", string(handle.ID)),
				slog.String("err", err.Error()),
			)
			h.reg.Remove(ctx, handle.ID, wire.CloseReasonTransportClosed)
			_ = ws.Close()
			return
		}
		ctx = logctx.WithSessData(ctx, &logctx.SessData{
			SessionID: ident.SessionID,
			UserID:    ident.UserID,
		})
	}

	h.log.Info("websocket connection established",
		slog.String("conn_id", string(handle.ID)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.Bool("authenticated", ident != nil),
	)

	go h.writePump(ws, handle)
	go h.readPump(ctx, ws, handle)
}

// writePump is the single writer for the websocket. It drains the handle's
// outbound queue in order and, when the registry closes the connection,
// announces the removal and reason to the peer before closing the socket.
func (h *Handler) writePump(ws *websocket.Conn, handle *registry.Handle) {
	defer func() { _ = ws.Close() }()
	for {
		select {
		case f := <-handle.Outbound:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteJSON(f); err != nil {
				h.reg.Remove(context.Background(), handle.ID, wire.CloseReasonTransportClosed)
				return
			}
		case <-handle.Done:
			reason := handle.CloseReason()
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = ws.WriteJSON(wire.NewConnectionClosed(string(handle.ID), reason))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)))
			return
		}
	}
}

// readPump decodes inbound messages into frames and routes them. Transport
// handles in-band auth itself; everything else goes to the registry.
func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, handle *registry.Handle) {
	ws.SetReadLimit(h.cfg.ReadLimit)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			h.reg.Remove(ctx, handle.ID, wire.CloseReasonClientDisconnect)
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			payload := &registry.ErrorPayload{
				Code:    wire.ErrorCodeParseError,
				Message: "invalid frame",
				Data:    map[string]any{"detail": err.Error()},
			}
			if nf, nerr := wire.NewNotification("error", payload); nerr == nil {
				_ = h.reg.SendTo(ctx, handle.ID, nf)
			}
			continue
		}

		if f.Type == wire.FrameRequest && f.Method == methodAuth {
			h.handleAuth(ctx, handle.ID, f)
			continue
		}

		if err := h.reg.OnFrame(ctx, handle.ID, f); err != nil {
			if errors.Is(err, registry.ErrUnknownConnection) {
				return
			}
			h.log.Debug("inbound frame rejected",
				slog.String("conn_id", string(handle.ID)),
				slog.String("err", err.Error()),
			)
		}
	}
}

type authParams struct {
	Token string `json:"token"`
}

type authResult struct {
	ConnectionID string   `json:"connection_id"`
	UserID       string   `json:"user_id"`
	Username     string   `json:"username,omitempty"`
	SessionID    string   `json:"session_id"`
	Permissions  []string `json:"permissions"`
}

// handleAuth completes deferred authentication: validate the token, attach
// the identity, and answer the request. Failures answer with the collapsed
// error taxonomy rather than lifecycle detail.
func (h *Handler) handleAuth(ctx context.Context, id registry.ConnectionID, req *wire.Frame) {
	respond := func(f *wire.Frame) {
		_ = h.reg.SendTo(ctx, id, f)
	}

	var params authParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeInvalidParams, "invalid auth params", nil))
			return
		}
	}
	if params.Token == "" {
		respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeInvalidParams, "auth requires a token", nil))
		return
	}
	if h.gate == nil {
		respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeAuthenticationRequired, "authentication not supported", nil))
		return
	}

	ident, err := h.gate.Authenticate(ctx, params.Token)
	if err != nil {
		respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeInvalidSession, "invalid session", nil))
		return
	}

	if err := h.reg.AttachIdentity(id, ident); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyAuthenticated):
			respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeAlreadyAuthenticated, "connection already authenticated", nil))
		case errors.Is(err, registry.ErrUnknownConnection):
			// Connection raced a removal; nothing to answer.
		default:
			respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeInternalError, "internal error", nil))
		}
		return
	}

	resp, err := wire.NewResultResponse(req.ID, &authResult{
		ConnectionID: string(id),
		UserID:       ident.UserID,
		Username:     ident.Username,
		SessionID:    ident.SessionID,
		Permissions:  ident.Permissions,
	})
	if err != nil {
		respond(wire.NewErrorResponse(req.ID, wire.ErrorCodeInternalError, "internal error", nil))
		return
	}
	respond(resp)

	h.log.Info("connection authenticated",
		slog.String("conn_id", string(id)),
		slog.String("user_id", ident.UserID),
		slog.String("session_id", ident.SessionID),
	)
}

var _ http.Handler = (*Handler)(nil)
