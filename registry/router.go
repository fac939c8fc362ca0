package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wirehub/wirehub/auth"
	"github.com/wirehub/wirehub/internal/logctx"
	"github.com/wirehub/wirehub/wire"
)

// ErrorPayload is the params object of an "error" notification: protocol
// failures that are not responses to a specific request (bad inbound
// frames, rejected subscribes) flow to the client through this channel.
type ErrorPayload struct {
	Code    wire.ErrorCode `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
}

// OnFrame routes one inbound frame from a connection. Transport pumps call
// it sequentially per connection; requests are handed off to their own
// goroutines so a slow handler never stalls the read pump.
func (r *Registry) OnFrame(ctx context.Context, id ConnectionID, f *wire.Frame) error {
	c, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	ctx = logctx.WithFrameData(ctx, &logctx.FrameData{
		Type:   string(f.Type),
		Method: f.Method,
	})

	switch f.Type {
	case wire.FrameRequest:
		if r.cfg.RequestHandler == nil {
			return c.enqueue(wire.NewErrorResponse(f.ID, wire.ErrorCodeMethodNotFound, "method not found", nil))
		}
		go r.cfg.RequestHandler(ctx, id, f)
		return nil

	case wire.FrameResponse:
		c.dispatcher.OnResponse(f)
		return nil

	case wire.FrameSubscribe:
		var required []string
		if r.cfg.TopicPermissions != nil {
			required = r.cfg.TopicPermissions(f.Topic)
		}
		if err := r.Subscribe(ctx, id, f.Topic, required...); err != nil {
			if errors.Is(err, ErrUnknownConnection) {
				return err
			}
			return c.enqueue(errorNotification(err))
		}
		return nil

	case wire.FrameUnsubscribe:
		r.Unsubscribe(ctx, id, f.Topic)
		return nil

	case wire.FramePing:
		return c.enqueue(wire.NewPong(f.Nonce))

	case wire.FramePong:
		c.notePong(f.Nonce)
		return nil

	default:
		// Server-originated variants arriving inbound are protocol misuse.
		r.log.Debug("rejecting inbound frame type",
			slog.String("conn_id", string(id)),
			slog.String("type", string(f.Type)),
		)
		return c.enqueue(errorNotificationCode(
			wire.ErrorCodeInvalidRequest,
			"frame type not accepted from clients",
			map[string]any{"type": string(f.Type)},
		))
	}
}

func errorNotificationCode(code wire.ErrorCode, message string, data any) *wire.Frame {
	f, err := wire.NewNotification("error", &ErrorPayload{Code: code, Message: message, Data: data})
	if err != nil {
		// ErrorPayload always marshals; keep the channel alive regardless.
		f, _ = wire.NewNotification("error", &ErrorPayload{Code: wire.ErrorCodeInternalError, Message: "internal error"})
	}
	return f
}

// errorNotification maps a registry or auth error onto the client-visible
// error taxonomy. Everything in the invalid-session class maps to one code
// so a stale token cannot distinguish expired from revoked.
func errorNotification(err error) *wire.Frame {
	var pe *auth.PermissionError
	switch {
	case errors.As(err, &pe):
		return errorNotificationCode(wire.ErrorCodeInsufficientPermissions, "insufficient permissions", map[string]any{
			"required": pe.Required,
			"held":     pe.Held,
		})
	case errors.Is(err, auth.ErrAuthenticationRequired):
		return errorNotificationCode(wire.ErrorCodeAuthenticationRequired, "authentication required", nil)
	case auth.IsInvalidSession(err):
		return errorNotificationCode(wire.ErrorCodeInvalidSession, "invalid session", nil)
	case errors.Is(err, ErrAlreadyAuthenticated):
		return errorNotificationCode(wire.ErrorCodeAlreadyAuthenticated, "connection already authenticated", nil)
	default:
		return errorNotificationCode(wire.ErrorCodeInternalError, "internal error", nil)
	}
}
