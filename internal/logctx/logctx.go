// Package logctx enriches slog records with connection, session, and frame
// attributes carried on the context, so call sites log once and every
// record downstream is correlated.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-carried groups.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnectionID),
			slog.String("remote_addr", cd.RemoteAddr),
		))
	}

	if sd, ok := ctx.Value(sessDataKey{}).(*SessData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
		))
	}

	if fd, ok := ctx.Value(frameDataKey{}).(*FrameData); ok {
		r.AddAttrs(slog.Group("frame",
			slog.String("type", fd.Type),
			slog.String("method", fd.Method),
			slog.String("id", fd.ID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type connDataKey struct{}

// ConnData identifies the connection a record belongs to.
type ConnData struct {
	ConnectionID string
	RemoteAddr   string
}

// WithConnData attaches connection attributes to ctx.
func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type sessDataKey struct{}

// SessData identifies the authenticated session behind a record.
type SessData struct {
	SessionID string
	UserID    string
}

// WithSessData attaches session attributes to ctx.
func WithSessData(ctx context.Context, data *SessData) context.Context {
	return context.WithValue(ctx, sessDataKey{}, data)
}

type frameDataKey struct{}

// FrameData identifies the frame being handled.
type FrameData struct {
	Type   string
	Method string
	ID     string
}

// WithFrameData attaches frame attributes to ctx.
func WithFrameData(ctx context.Context, data *FrameData) context.Context {
	return context.WithValue(ctx, frameDataKey{}, data)
}
